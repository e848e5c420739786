// Package store persists the session record.
package store

import (
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// ErrCorruptRecord is returned when a record exists but cannot be used.
var ErrCorruptRecord = errors.New("corrupt session record")

// Record is the flat session document written at shutdown.
type Record struct {
	WorkDurationSeconds  int              `yaml:"work_duration_seconds" mapstructure:"work_duration_seconds" default:"1500" validate:"gt=0"`
	BreakDurationSeconds int              `yaml:"break_duration_seconds" mapstructure:"break_duration_seconds" default:"300" validate:"gt=0"`
	WorkPlaylist         []string         `yaml:"work_playlist" mapstructure:"work_playlist" default:"[]"`
	BreakPlaylist        []string         `yaml:"break_playlist" mapstructure:"break_playlist" default:"[]"`
	WorkResumePositions  map[string]int64 `yaml:"work_resume_positions" mapstructure:"work_resume_positions" default:"{}"`
	BreakResumePositions map[string]int64 `yaml:"break_resume_positions" mapstructure:"break_resume_positions" default:"{}"`
	Volume               int              `yaml:"volume" mapstructure:"volume" default:"75" validate:"gte=0,lte=100"`
	AlwaysOnTop          bool             `yaml:"always_on_top" mapstructure:"always_on_top"`
	MainWindowGeometry   string           `yaml:"main_window_geometry" mapstructure:"main_window_geometry"`
	VideoWindowGeometry  string           `yaml:"video_window_geometry" mapstructure:"video_window_geometry"`
}

// legacyKeys maps keys written by older versions to the current ones.
var legacyKeys = map[string]string{
	"work_time":       "work_duration_seconds",
	"break_time":      "break_duration_seconds",
	"work_media_pos":  "work_resume_positions",
	"break_media_pos": "break_resume_positions",
}

var validate = validator.New()

// DefaultRecord returns the record used when nothing usable is stored.
func DefaultRecord() Record {
	var rec Record
	// The default tags are static, Set cannot fail on them.
	_ = defaults.Set(&rec)
	return rec
}

// Validate validates the record.
func (r Record) Validate() error {
	return validate.Struct(r)
}

// FileStore reads and writes the record at a fixed path.
type FileStore struct {
	path string
}

// NewFileStore creates a store for path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the record location.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the record. A missing or empty file yields the defaults and a
// nil error. Unreadable, malformed or invalid contents yield the defaults
// together with an error wrapping ErrCorruptRecord so the caller can log it
// and carry on.
func (s *FileStore) Load() (Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultRecord(), nil
		}
		return DefaultRecord(), errors.Wrapf(ErrCorruptRecord, "read %s: %v", s.path, err)
	}
	rec, err := Decode(data)
	if err != nil {
		return DefaultRecord(), errors.Wrapf(err, "load %s", s.path)
	}
	return rec, nil
}

// Decode parses a YAML or JSON document onto the defaults. Keys that are
// absent keep their default value.
func Decode(data []byte) (Record, error) {
	rec := DefaultRecord()

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return rec, errors.Wrapf(ErrCorruptRecord, "parse: %v", err)
	}
	if len(raw) == 0 {
		return rec, nil
	}
	aliasLegacyKeys(raw)

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &rec,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return DefaultRecord(), errors.Wrap(err, "failed to create decoder")
	}
	if err := decoder.Decode(raw); err != nil {
		return DefaultRecord(), errors.Wrapf(ErrCorruptRecord, "decode: %v", err)
	}
	if err := rec.Validate(); err != nil {
		return DefaultRecord(), errors.Wrapf(ErrCorruptRecord, "validate: %v", err)
	}
	rec.normalize()
	return rec, nil
}

func aliasLegacyKeys(raw map[string]any) {
	for legacy, current := range legacyKeys {
		v, ok := raw[legacy]
		if !ok {
			continue
		}
		if _, exists := raw[current]; !exists {
			raw[current] = v
		}
		delete(raw, legacy)
	}
}

// normalize replaces explicit nulls with empty collections and drops
// negative offsets.
func (r *Record) normalize() {
	if r.WorkPlaylist == nil {
		r.WorkPlaylist = []string{}
	}
	if r.BreakPlaylist == nil {
		r.BreakPlaylist = []string{}
	}
	if r.WorkResumePositions == nil {
		r.WorkResumePositions = map[string]int64{}
	}
	if r.BreakResumePositions == nil {
		r.BreakResumePositions = map[string]int64{}
	}
	for _, m := range []map[string]int64{r.WorkResumePositions, r.BreakResumePositions} {
		for k, v := range m {
			if v < 0 {
				m[k] = 0
			}
		}
	}
}

// Save writes the record atomically: a temporary file in the same
// directory is written, synced and renamed over the target.
func (s *FileStore) Save(rec Record) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return errors.Wrap(err, "failed to create state directory")
	}

	data, err := yaml.Marshal(&rec)
	if err != nil {
		return errors.Wrap(err, "failed to encode session record")
	}

	f, err := os.CreateTemp(dir, ".session-*.tmp")
	if err != nil {
		return errors.Wrap(err, "failed to create temp file")
	}
	tmp := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return errors.Wrap(err, "failed to write temp file")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return errors.Wrap(err, "failed to sync temp file")
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrap(err, "failed to close temp file")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrap(err, "failed to replace session record")
	}
	return nil
}
