package status

import (
	"math"
	"os"
	"reflect"

	"github.com/hagenbeck/vctree/internal/fileindex"
)

// fingerprintFromFileInfo builds the stat fingerprint the file index
// records: ctime, mtime, size, executable bit. Ctime is pulled out of the
// platform-specific os.FileInfo.Sys() struct via reflection so the same
// code runs unmodified across the BSD/Linux Stat_t field-naming split,
// falling back to zero (always treated as stale) when it cannot be found.
func fingerprintFromFileInfo(info os.FileInfo) fileindex.Fingerprint {
	fp := fileindex.Fingerprint{
		Mtime:      info.ModTime().UnixNano(),
		Size:       info.Size(),
		Executable: info.Mode()&0o111 != 0,
	}
	if ctime, ok := changeTimeUnixNano(info); ok {
		fp.Ctime = ctime
	}
	return fp
}

func changeTimeUnixNano(info os.FileInfo) (int64, bool) {
	statValue, ok := statStruct(info)
	if !ok {
		return 0, false
	}

	for _, name := range []string{"Ctim", "Ctimespec"} {
		if tsField := statValue.FieldByName(name); tsField.IsValid() {
			if nano, ok := timespecUnixNano(tsField); ok {
				return nano, true
			}
		}
	}

	sec, hasSec := intFieldByNames(statValue, "Ctime")
	nsec, hasNsec := intFieldByNames(statValue, "CtimeNsec", "Ctimensec")
	if hasSec && hasNsec {
		return sec*1_000_000_000 + nsec, true
	}
	return 0, false
}

func timespecUnixNano(v reflect.Value) (int64, bool) {
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return 0, false
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return 0, false
	}
	sec, hasSec := intFieldByNames(v, "Sec", "Tv_sec")
	nsec, hasNsec := intFieldByNames(v, "Nsec", "Tv_nsec")
	if !hasSec || !hasNsec {
		return 0, false
	}
	return sec*1_000_000_000 + nsec, true
}

func statStruct(info os.FileInfo) (reflect.Value, bool) {
	sys := info.Sys()
	if sys == nil {
		return reflect.Value{}, false
	}
	v := reflect.ValueOf(sys)
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return reflect.Value{}, false
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return reflect.Value{}, false
	}
	return v, true
}

func intFieldByNames(v reflect.Value, names ...string) (int64, bool) {
	for _, name := range names {
		f := v.FieldByName(name)
		if !f.IsValid() {
			continue
		}
		if i, ok := int64Value(f); ok {
			return i, true
		}
	}
	return 0, false
}

func int64Value(v reflect.Value) (int64, bool) {
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := v.Uint()
		if u > math.MaxInt64 {
			return 0, false
		}
		return int64(u), true
	default:
		return 0, false
	}
}
