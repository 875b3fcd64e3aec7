// Package segmented downloads one remote file as N byte-range segments.
//
// A run resolves its run-state, probes the remote size, plans contiguous
// ranges, fetches every range concurrently into "<dest>.partN" files and,
// once all of them are complete, merges the parts in index order into the
// destination. Each segment checkpoints its progress in "<dest>.progressN"
// so an interrupted fetch resumes where the file on disk ends.
package segmented
