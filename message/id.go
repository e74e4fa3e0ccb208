package message

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
)

// ID is a JSON-RPC request id. Requests sent by this client always use integers;
// a server may use strings for its own requests.
type ID struct {
	num   int64
	str   string
	isStr bool
}

func NewIntID(n int64) ID { return ID{num: n} }

func NewStringID(s string) ID { return ID{str: s, isStr: true} }

// Int returns the numeric value and whether the id is numeric.
func (id ID) Int() (int64, bool) {
	return id.num, !id.isStr
}

func (id ID) String() string {
	if id.isStr {
		return strconv.Quote(id.str)
	}
	return strconv.FormatInt(id.num, 10)
}

func (id ID) MarshalJSON() ([]byte, error) {
	if id.isStr {
		return json.Marshal(id.str)
	}
	return []byte(strconv.FormatInt(id.num, 10)), nil
}

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return errors.New("empty id")
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = NewStringID(s)
		return nil
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return errors.New("id must be an integer or a string")
	}
	*id = NewIntID(n)
	return nil
}
