package utils

import (
	"regexp"
	"time"
)

const ToolUserAgent = "splitdl/1.0"

// DefaultChunkSize is the read/write unit of a segment fetch. Progress is
// checkpointed once per chunk.
const DefaultChunkSize = 8 * 1024

// DefaultRequestTimeout bounds the wait for response headers and for each
// body read of a segment.
const DefaultRequestTimeout = 3 * time.Minute

const SocketBufferSize = 1024 * 1024 * 8

const DefaultStateFile = "download_info.txt"

const DefaultParts = 4

var (
	SegmentIDRegex  = regexp.MustCompile(`\.part(\d+)$`)
	ProgressIDRegex = regexp.MustCompile(`\.progress(\d+)$`)
	fileNameRegex   = regexp.MustCompile(`[^a-zA-Z0-9_\-\. ]+`)
)
