package snapshot

import (
	"errors"
	"fmt"
	"reflect"
	"unicode/utf8"
)

// ErrInvalidText is returned when a snapshot holds a string that is not
// valid UTF-8. encoding/json would replace the bytes with U+FFFD and the
// restored tables would no longer match the originals.
var ErrInvalidText = errors.New("snapshot text is not valid UTF-8")

// checkText walks the exported fields of v and reports the first string
// that is not valid UTF-8.
func checkText(v reflect.Value, path string) error {
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return checkText(v.Elem(), path)
	case reflect.Struct:
		t := v.Type()
		for i := range t.NumField() {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			if err := checkText(v.Field(i), path+"."+f.Name); err != nil {
				return err
			}
		}
	case reflect.Slice, reflect.Array:
		for i := range v.Len() {
			if err := checkText(v.Index(i), fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
	case reflect.Map:
		iter := v.MapRange()
		for iter.Next() {
			if err := checkText(iter.Key(), path+"{key}"); err != nil {
				return err
			}
			if err := checkText(iter.Value(), fmt.Sprintf("%s[%v]", path, iter.Key())); err != nil {
				return err
			}
		}
	case reflect.String:
		if s := v.String(); !utf8.ValidString(s) {
			return fmt.Errorf("%w: %s = %q", ErrInvalidText, path, s)
		}
	}
	return nil
}
