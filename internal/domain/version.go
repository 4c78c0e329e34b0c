package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is the optimistic concurrency token of an engine aggregate.
// It is derived from the upstream stream message id "{ts}-{seq}" and
// ordered lexicographically on (Ts, Seq).
type Version struct {
	Ts  uint64 // milliseconds
	Seq uint32 // counter within the same millisecond
}

// ParseVersion constructs a Version from a stream message id ("{ts}-{seq}").
func ParseVersion(streamID string) (Version, error) {
	tsPart, seqPart, ok := strings.Cut(streamID, "-")
	if !ok {
		return Version{}, fmt.Errorf("invalid stream id %q: missing separator", streamID)
	}
	ts, err := strconv.ParseUint(tsPart, 10, 64)
	if err != nil {
		return Version{}, fmt.Errorf("invalid stream id %q: %w", streamID, err)
	}
	seq, err := strconv.ParseUint(seqPart, 10, 32)
	if err != nil {
		return Version{}, fmt.Errorf("invalid stream id %q: %w", streamID, err)
	}
	return Version{Ts: ts, Seq: uint32(seq)}, nil
}

// String renders the version back into stream-id form.
func (v Version) String() string {
	return strconv.FormatUint(v.Ts, 10) + "-" + strconv.FormatUint(uint64(v.Seq), 10)
}

// Less reports whether v orders strictly before o.
func (v Version) Less(o Version) bool {
	if v.Ts != o.Ts {
		return v.Ts < o.Ts
	}
	return v.Seq < o.Seq
}

// After reports whether v orders strictly after o. Mutations are accepted
// only when the incoming version is After the stored one.
func (v Version) After(o Version) bool {
	return o.Less(v)
}
