// Package logs reads the watch service's log files for `tagsync logs`.
//
// Last reads the trailing lines of a file with bounded memory and Follow
// polls for appended lines until its context ends. Offsets are byte positions
// so a follower can resume where the last read stopped.
package logs
