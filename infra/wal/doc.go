// Package wal is the segmented write-ahead log of order actions.
// Every place, cancel, and modify is appended before it reaches the
// engine; replaying the segments in order rebuilds the books after a
// restart. Records are CRC-framed so a torn tail is detected rather
// than replayed.
package wal
