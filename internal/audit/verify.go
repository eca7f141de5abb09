package audit

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ViolationKind: тип нарушения целостности
type ViolationKind string

const (
	ViolationParse ViolationKind = "parse"
	ViolationPrev  ViolationKind = "prev_mismatch"
	ViolationHash  ViolationKind = "hash_mismatch"
)

// Violation: нарушение цепочки в конкретной строке (нумерация с 1)
type Violation struct {
	Line     int
	Kind     ViolationKind
	Expected string
	Got      string
	Detail   string
}

func (v Violation) String() string {
	switch v.Kind {
	case ViolationParse:
		return fmt.Sprintf("line %d: invalid record: %s", v.Line, v.Detail)
	case ViolationPrev:
		return fmt.Sprintf("line %d: prev mismatch: expected %s… got %s…", v.Line, short(v.Expected), short(v.Got))
	default:
		return fmt.Sprintf("line %d: hash mismatch: computed %s… recorded %s…", v.Line, short(v.Expected), short(v.Got))
	}
}

// Report: итог проверки журнала
type Report struct {
	Records    int
	Missing    bool // файла нет — предупреждение, не ошибка
	Violations []Violation
}

func (r Report) OK() bool { return len(r.Violations) == 0 }

func (r Report) String() string {
	if r.Missing {
		return "audit log not found, nothing to verify"
	}
	if r.OK() {
		return fmt.Sprintf("OK: %d records verified", r.Records)
	}
	lines := make([]string, 0, len(r.Violations)+1)
	lines = append(lines, fmt.Sprintf("FAILED: %d violations in %d records", len(r.Violations), r.Records))
	for _, v := range r.Violations {
		lines = append(lines, "  "+v.String())
	}
	return strings.Join(lines, "\n")
}

// VerifyFile проверяет журнал по пути. Отсутствие файла — не ошибка.
func VerifyFile(path string) (Report, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return Report{Missing: true}, nil
	}
	if err != nil {
		return Report{}, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()
	return Verify(f)
}

// Verify читает записи строго по порядку и сообщает обо всех нарушениях за
// один проход. expected_prev продвигается только за полностью валидной
// записью, поэтому подмена записи i ломает проверку prev во всех последующих.
func Verify(r io.Reader) (Report, error) {
	var rep Report
	expectedPrev := Genesis

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), 16<<20)

	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(strings.TrimSpace(string(raw))) == 0 {
			continue
		}
		rep.Records++

		rec, err := ParseRecord(raw)
		if err != nil {
			rep.Violations = append(rep.Violations, Violation{Line: line, Kind: ViolationParse, Detail: err.Error()})
			continue
		}

		valid := true
		if rec.Prev != expectedPrev {
			valid = false
			rep.Violations = append(rep.Violations, Violation{Line: line, Kind: ViolationPrev, Expected: expectedPrev, Got: rec.Prev})
		}
		computed, err := HashEvent(rec.Event)
		if err != nil {
			rep.Violations = append(rep.Violations, Violation{Line: line, Kind: ViolationParse, Detail: err.Error()})
			continue
		}
		if computed != rec.Hash {
			valid = false
			rep.Violations = append(rep.Violations, Violation{Line: line, Kind: ViolationHash, Expected: computed, Got: rec.Hash})
		}
		if valid {
			expectedPrev = rec.Hash
		}
	}
	if err := sc.Err(); err != nil {
		return rep, fmt.Errorf("read audit log: %w", err)
	}
	return rep, nil
}
