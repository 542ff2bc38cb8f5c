package disque

import (
	"fmt"
	"strconv"
)

// QSTAT field names.
const (
	fieldName    = "name"
	fieldJobsIn  = "jobs-in"
	fieldJobsOut = "jobs-out"
	fieldLen     = "len"
	fieldAge     = "age"
	fieldIdle    = "idle"
	fieldBlocked = "blocked"
)

// QueueStats is one queue's QSTAT snapshot.
type QueueStats struct {
	// Name is the queue name echoed by the broker; empty if the reply omitted it.
	Name string

	JobsIn  uint64 // cumulative enqueue count
	JobsOut uint64 // cumulative dequeue count

	Len            uint64 // current depth
	AgeSeconds     uint64 // seconds since queue creation
	IdleSeconds    uint64 // seconds since last activity
	BlockedWorkers uint64 // clients blocked waiting on the queue
}

// DecodeError reports a QSTAT reply that could not be turned into QueueStats.
type DecodeError struct {
	Field  string // empty when the reply itself has the wrong shape
	Reason string
}

func (e *DecodeError) Error() string {
	if e.Field == "" {
		return "disque: decode qstat: " + e.Reason
	}
	return fmt.Sprintf("disque: decode qstat field %q: %s", e.Field, e.Reason)
}

// DecodeQueueStats converts a raw QSTAT reply into QueueStats.
// It accepts the RESP2 flat array and the RESP3 map forms.
func DecodeQueueStats(reply interface{}) (QueueStats, error) {
	fields, err := replyFields(reply)
	if err != nil {
		return QueueStats{}, err
	}

	var st QueueStats
	if v, ok := fields[fieldName]; ok {
		name, ok := v.(string)
		if !ok {
			return QueueStats{}, &DecodeError{Field: fieldName, Reason: fmt.Sprintf("unexpected type %T", v)}
		}
		st.Name = name
	}

	for _, f := range []struct {
		key string
		dst *uint64
	}{
		{fieldJobsIn, &st.JobsIn},
		{fieldJobsOut, &st.JobsOut},
		{fieldLen, &st.Len},
		{fieldAge, &st.AgeSeconds},
		{fieldIdle, &st.IdleSeconds},
		{fieldBlocked, &st.BlockedWorkers},
	} {
		n, err := uintField(fields, f.key)
		if err != nil {
			return QueueStats{}, err
		}
		*f.dst = n
	}
	return st, nil
}

func replyFields(reply interface{}) (map[string]interface{}, error) {
	switch r := reply.(type) {
	case []interface{}:
		if len(r)%2 != 0 {
			return nil, &DecodeError{Reason: fmt.Sprintf("odd number of elements (%d)", len(r))}
		}
		out := make(map[string]interface{}, len(r)/2)
		for i := 0; i < len(r); i += 2 {
			k, ok := r[i].(string)
			if !ok {
				return nil, &DecodeError{Reason: fmt.Sprintf("key at index %d is %T, not string", i, r[i])}
			}
			out[k] = r[i+1]
		}
		return out, nil
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(r))
		for k, v := range r {
			ks, ok := k.(string)
			if !ok {
				return nil, &DecodeError{Reason: fmt.Sprintf("key %v is %T, not string", k, k)}
			}
			out[ks] = v
		}
		return out, nil
	default:
		return nil, &DecodeError{Reason: fmt.Sprintf("unexpected reply type %T", reply)}
	}
}

func uintField(fields map[string]interface{}, key string) (uint64, error) {
	v, ok := fields[key]
	if !ok || v == nil {
		return 0, &DecodeError{Field: key, Reason: "missing"}
	}
	switch n := v.(type) {
	case int64:
		if n < 0 {
			return 0, &DecodeError{Field: key, Reason: fmt.Sprintf("negative value %d", n)}
		}
		return uint64(n), nil
	case string:
		u, err := strconv.ParseUint(n, 10, 64)
		if err != nil {
			return 0, &DecodeError{Field: key, Reason: fmt.Sprintf("not an unsigned integer: %q", n)}
		}
		return u, nil
	default:
		return 0, &DecodeError{Field: key, Reason: fmt.Sprintf("unexpected type %T", v)}
	}
}
