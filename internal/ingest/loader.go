package ingest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path"
	"strings"
	"unicode/utf8"

	"audita/internal/ids"
	"audita/internal/procedure"
	"audita/internal/source"
	"audita/internal/subject"
	"audita/internal/verification"
)

// utf8BOM is written by spreadsheet exports ahead of the header.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Audit is a loaded audit map, ready to run.
type Audit struct {
	Name       string
	Sources    source.Registry
	Actions    map[string]*verification.Definition
	Procedures []*procedure.Definition
	Subjects   []*subject.Subject
	// Warnings lists procedure references to undefined actions.
	Warnings []procedure.UnresolvedActionWarning
}

// Loader reads audit maps from a filesystem. Paths inside a map are relative
// to the map's directory.
type Loader struct {
	fsys       fs.FS
	logger     *slog.Logger
	subjectIDs ids.Generator
}

type LoaderOption func(*Loader)

func WithLogger(logger *slog.Logger) LoaderOption {
	return func(l *Loader) {
		l.logger = logger
	}
}

// WithSubjectIDs overrides the generator for subjects listed without an id.
func WithSubjectIDs(gen ids.Generator) LoaderOption {
	return func(l *Loader) {
		l.subjectIDs = gen
	}
}

// NewLoader creates a loader over fsys.
func NewLoader(fsys fs.FS, opts ...LoaderOption) *Loader {
	l := &Loader{
		fsys:   fsys,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	if l.subjectIDs == nil {
		l.subjectIDs = ids.NewSequence("A")
	}
	return l
}

// Load reads the map at name and every file it references.
func (l *Loader) Load(name string) (*Audit, error) {
	f, err := l.fsys.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open audit map: %w", err)
	}
	defer f.Close()

	m, err := ParseMap(f)
	if err != nil {
		return nil, fmt.Errorf("parse audit map %s: %w", name, err)
	}
	return l.Build(m, path.Dir(name))
}

// Build turns a parsed map into definitions. dir resolves the CSV files the
// map references.
func (l *Loader) Build(m *Map, dir string) (*Audit, error) {
	a := &Audit{
		Name:    m.Name,
		Sources: source.Registry{},
		Actions: make(map[string]*verification.Definition, len(m.Actions)),
	}

	var errs []error
	for _, spec := range m.Sources {
		src, err := l.loadSource(spec, dir)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := a.Sources.Add(src); err != nil {
			errs = append(errs, err)
			continue
		}
		l.logger.Debug("information source loaded",
			slog.String("source", src.ID()),
			slog.Int("rows", src.Len()),
		)
	}

	for _, spec := range m.Actions {
		def := &verification.Definition{
			ID:                       spec.ID,
			Fields:                   spec.Fields,
			Criterion:                spec.Criterion,
			Rationale:                spec.Rationale,
			EvidenceTemplate:         spec.Evidence,
			SituationDescription:     spec.Situation,
			Forwarding:               verification.Forwarding{Type: spec.Forwarding.Type, Text: spec.Forwarding.Text},
			PreForwarding:            spec.PreForwarding,
			AllowedEntities:          verification.ParseAllowList(spec.Entities),
			MissingEntityIsFinding:   spec.MissingEntityIsFinding,
			MissingEntityDescription: spec.MissingEntityDescription,
			MissingValueIsFinding:    spec.MissingValueIsFinding,
		}
		// An action naming an unknown source stays unbound and fails with a
		// configuration error when executed.
		if src, ok := a.Sources[spec.Source]; ok {
			def.Source = src
		} else {
			l.logger.Warn("action references unknown information source",
				slog.String("action", spec.ID),
				slog.String("source", spec.Source),
			)
		}
		a.Actions[spec.ID] = def
	}

	for _, spec := range m.Procedures {
		def, warnings := procedure.Bind(procedure.Definition{
			ID:            spec.ID,
			Description:   spec.Description,
			Expression:    spec.Expression,
			FindingNumber: spec.Finding.Number,
			FindingName:   spec.Finding.Name,
		}, a.Actions)
		for _, w := range warnings {
			l.logger.Warn("procedure references undefined action",
				slog.String("procedure", w.ProcedureID),
				slog.String("action", w.ActionID),
			)
		}
		a.Warnings = append(a.Warnings, warnings...)
		a.Procedures = append(a.Procedures, def)
	}

	subjects, err := l.loadSubjects(m.Subjects, dir)
	if err != nil {
		errs = append(errs, err)
	}
	a.Subjects = subjects

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	l.logger.Info("audit map loaded",
		slog.String("name", a.Name),
		slog.Int("sources", len(a.Sources)),
		slog.Int("actions", len(a.Actions)),
		slog.Int("procedures", len(a.Procedures)),
		slog.Int("subjects", len(a.Subjects)),
		slog.Int("warnings", len(a.Warnings)),
	)
	return a, nil
}

func (l *Loader) loadSource(spec SourceSpec, dir string) (*source.InformationSource, error) {
	header, records, err := l.readCSV(path.Join(dir, spec.File), spec.Delimiter)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", spec.ID, err)
	}
	return source.New(spec.ID, spec.Description, spec.Key, header, records)
}

func (l *Loader) loadSubjects(spec SubjectsSpec, dir string) ([]*subject.Subject, error) {
	var (
		subjects []*subject.Subject
		errs     []error
		seen     = map[string]struct{}{}
	)
	add := func(id, name, key string) {
		key = strings.TrimSpace(key)
		if key == "" {
			errs = append(errs, fmt.Errorf("%w: subject %q has no key", ErrInvalidMap, name))
			return
		}
		if _, dup := seen[key]; dup {
			errs = append(errs, fmt.Errorf("%w: duplicate subject key %s", ErrInvalidMap, key))
			return
		}
		seen[key] = struct{}{}
		if id == "" {
			id = l.subjectIDs.Next()
		}
		subjects = append(subjects, subject.New(id, strings.TrimSpace(name), key))
	}

	if spec.File != "" {
		header, records, err := l.readCSV(path.Join(dir, spec.File), spec.Delimiter)
		if err != nil {
			return nil, fmt.Errorf("subjects: %w", err)
		}
		nameIdx, keyIdx := columnIndex(header, "name"), columnIndex(header, "key")
		if nameIdx < 0 || keyIdx < 0 {
			return nil, fmt.Errorf("%w: subjects file %s needs name and key columns", ErrInvalidMap, spec.File)
		}
		for _, rec := range records {
			add("", cell(rec, nameIdx), cell(rec, keyIdx))
		}
	}
	for _, s := range spec.List {
		add(s.ID, s.Name, s.Key)
	}
	return subjects, errors.Join(errs...)
}

// readCSV returns the header and data records of a CSV file.
func (l *Loader) readCSV(name, delimiter string) ([]string, [][]string, error) {
	data, err := fs.ReadFile(l.fsys, name)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", name, err)
	}
	data = bytes.TrimPrefix(data, utf8BOM)
	if line, ok := firstInvalidLine(data); !ok {
		return nil, nil, fmt.Errorf("%w: %s line %d is not valid UTF-8, re-export the file as UTF-8", ErrInvalidMap, name, line)
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	if delimiter != "" {
		r.Comma = []rune(delimiter)[0]
	}

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, fmt.Errorf("read %s: empty file", name)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", name, err)
	}
	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", name, err)
	}
	return header, records, nil
}

// firstInvalidLine reports the 1-based line of the first byte that is not
// valid UTF-8. ok is true when the whole buffer is valid.
func firstInvalidLine(data []byte) (line int, ok bool) {
	if utf8.Valid(data) {
		return 0, true
	}
	for off := 0; off < len(data); {
		r, size := utf8.DecodeRune(data[off:])
		if r == utf8.RuneError && size == 1 {
			return bytes.Count(data[:off], []byte{'\n'}) + 1, false
		}
		off += size
	}
	return 0, true
}

func columnIndex(header []string, name string) int {
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), name) {
			return i
		}
	}
	return -1
}

func cell(rec []string, i int) string {
	if i < len(rec) {
		return rec[i]
	}
	return ""
}
