package object

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ekaya-inc/ekaya-orm/pkg/dataset"
	"github.com/ekaya-inc/ekaya-orm/pkg/message"
)

type bindMode int

const (
	toRecord bindMode = iota
	fromRecord
	toMessage
	fromMessage
)

// Binder moves entity fields to or from a record or a message. An entity's
// Bind method calls Field once per mapped column, superclass fields first.
type Binder struct {
	mode bindMode
	rec  *dataset.Record
	msg  *message.Element
	err  error
}

// Err returns the first conversion error seen.
func (b *Binder) Err() error { return b.err }

// Writing reports whether the binder copies fields out of the entity.
func (b *Binder) Writing() bool { return b.mode == toRecord || b.mode == toMessage }

// Field binds the column name to the field behind ptr. Supported pointer
// targets are the usual scalar types, time.Time, []byte and any.
func (b *Binder) Field(name string, ptr any) {
	if b.err != nil {
		return
	}
	switch b.mode {
	case toRecord:
		v, err := load(ptr)
		if err != nil {
			b.err = fmt.Errorf("bind %s: %w", name, err)
			return
		}
		b.rec.Set(name, v)
	case toMessage:
		v, err := load(ptr)
		if err != nil {
			b.err = fmt.Errorf("bind %s: %w", name, err)
			return
		}
		b.msg.Set(name, v)
	case fromRecord:
		if v, ok := b.rec.Get(name); ok {
			if err := store(ptr, v); err != nil {
				b.err = fmt.Errorf("bind %s: %w", name, err)
			}
		}
	case fromMessage:
		v, ok, err := b.msg.Get(name)
		if err != nil {
			b.err = err
			return
		}
		if ok {
			if err := store(ptr, v); err != nil {
				b.err = fmt.Errorf("bind %s: %w", name, err)
			}
		}
	}
}

func load(ptr any) (any, error) {
	switch p := ptr.(type) {
	case *string:
		return *p, nil
	case *int:
		return int64(*p), nil
	case *int16:
		return int64(*p), nil
	case *int32:
		return int64(*p), nil
	case *int64:
		return *p, nil
	case *float32:
		return float64(*p), nil
	case *float64:
		return *p, nil
	case *bool:
		return *p, nil
	case *time.Time:
		if p.IsZero() {
			return nil, nil
		}
		return *p, nil
	case *[]byte:
		return *p, nil
	case *any:
		return dataset.Normalize(*p), nil
	}
	return nil, fmt.Errorf("unsupported field type %T", ptr)
}

func store(ptr any, v any) error {
	v = dataset.Normalize(v)
	switch p := ptr.(type) {
	case *string:
		if v == nil {
			*p = ""
			return nil
		}
		*p = dataset.FormatValue(v)
	case *int:
		i, err := toInt(v)
		*p = int(i)
		return err
	case *int16:
		i, err := toInt(v)
		*p = int16(i)
		return err
	case *int32:
		i, err := toInt(v)
		*p = int32(i)
		return err
	case *int64:
		i, err := toInt(v)
		*p = i
		return err
	case *float32:
		f, err := toFloat(v)
		*p = float32(f)
		return err
	case *float64:
		f, err := toFloat(v)
		*p = f
		return err
	case *bool:
		switch x := v.(type) {
		case nil:
			*p = false
		case bool:
			*p = x
		case int64:
			*p = x != 0
		case string:
			bv, err := strconv.ParseBool(strings.TrimSpace(x))
			if err != nil {
				return err
			}
			*p = bv
		default:
			return fmt.Errorf("cannot store %T in bool", v)
		}
	case *time.Time:
		switch x := v.(type) {
		case nil:
			*p = time.Time{}
		case time.Time:
			*p = x
		case string:
			t, err := time.Parse(time.RFC3339Nano, x)
			if err != nil {
				return err
			}
			*p = t
		default:
			return fmt.Errorf("cannot store %T in time", v)
		}
	case *[]byte:
		switch x := v.(type) {
		case nil:
			*p = nil
		case []byte:
			*p = x
		case string:
			*p = []byte(x)
		default:
			return fmt.Errorf("cannot store %T in bytes", v)
		}
	case *any:
		*p = v
	default:
		return fmt.Errorf("unsupported field type %T", ptr)
	}
	return nil
}

func toInt(v any) (int64, error) {
	switch x := v.(type) {
	case nil:
		return 0, nil
	case int64:
		return x, nil
	case float64:
		return int64(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case string:
		return strconv.ParseInt(strings.TrimSpace(x), 10, 64)
	case []byte:
		return strconv.ParseInt(strings.TrimSpace(string(x)), 10, 64)
	}
	return 0, fmt.Errorf("cannot store %T in integer", v)
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case nil:
		return 0, nil
	case int64:
		return float64(x), nil
	case float64:
		return x, nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(x), 64)
	case []byte:
		return strconv.ParseFloat(strings.TrimSpace(string(x)), 64)
	}
	return 0, fmt.Errorf("cannot store %T in float", v)
}
