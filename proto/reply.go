package proto

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
)

// Reply describes a response before it is bound to a request. Every field is
// optional; unset fields take their defaults when the reply is turned into a
// Response.
type Reply struct {
	message    string
	hasMessage bool
	data       any
	hasData    bool
	status     int
	hasStatus  bool
}

func NewReply() Reply {
	return Reply{}
}

func (r Reply) WithMessage(message string) Reply {
	r.message = message
	r.hasMessage = true
	return r
}

func (r Reply) WithData(data any) Reply {
	r.data = data
	r.hasData = true
	return r
}

func (r Reply) WithStatus(status int) Reply {
	r.status = status
	r.hasStatus = true
	return r
}

// ReplyFrom resolves a loosely ordered argument list into a Reply:
//
//   - a string supplies the message
//   - a number supplies the status (NaN and numbers outside the int32
//     range are ignored)
//   - anything else that is not nil supplies the data
//
// The first argument of each kind wins; later ones of the same kind are
// ignored. A Reply argument is merged field by field under the same rule.
func ReplyFrom(args ...any) Reply {
	var r Reply
	for _, arg := range args {
		switch v := arg.(type) {
		case nil:
		case Reply:
			if v.hasMessage && !r.hasMessage {
				r = r.WithMessage(v.message)
			}
			if v.hasStatus && !r.hasStatus {
				r = r.WithStatus(v.status)
			}
			if v.hasData && !r.hasData {
				r = r.WithData(v.data)
			}
		case string:
			if !r.hasMessage {
				r = r.WithMessage(v)
			}
		default:
			if status, ok := asStatus(v); ok {
				if !r.hasStatus {
					r = r.WithStatus(status)
				}
				continue
			}
			if _, isNumber := numeric(v); isNumber {
				// NaN and friends
				continue
			}
			if !r.hasData {
				r = r.WithData(v)
			}
		}
	}
	return r
}

// Status returns the resolved status code.
func (r Reply) Status() int {
	return r.status
}

// Message returns the resolved message, applying the Success/Failure default.
func (r Reply) Message() string {
	if r.hasMessage && r.message != "" {
		return r.message
	}
	if r.status == StatusOK {
		return "Success"
	}
	return "Failure"
}

// Response binds the reply to a request. A non-nil error means the data could
// not be marshalled.
func (r Reply) Response(id, route string) (Response, error) {
	data := r.data
	if !r.hasData || data == nil {
		data = struct{}{}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Response{}, fmt.Errorf("failed to marshal reply data: %w", err)
	}
	return Response{
		ID:      id,
		Route:   route,
		Status:  r.status,
		Message: r.Message(),
		Data:    raw,
	}, nil
}

// asStatus converts a number to a status code. Numbers that cannot be one,
// NaN or outside the int32 range, are rejected.
func asStatus(v any) (int, bool) {
	f, ok := numeric(v)
	if !ok || math.IsNaN(f) || f < math.MinInt32 || f > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}

func numeric(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}
