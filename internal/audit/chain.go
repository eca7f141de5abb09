package audit

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Genesis: prev первой записи цепочки
var Genesis = strings.Repeat("0", 64)

// Record: одна строка журнала: {"event": {...}, "prev": "<hex>", "hash": "<hex>"}.
// Хеш считается только по event: prev в хешируемую область не входит.
type Record struct {
	Event map[string]any `json:"event"`
	Prev  string         `json:"prev"`
	Hash  string         `json:"hash"`
}

// Canonical: детерминированная сериализация: ключи объектов отсортированы
// (encoding/json сортирует ключи map), без пробелов и HTML-экранирования.
func Canonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// HashEvent = hex(SHA-256(Canonical(event)))
func HashEvent(event map[string]any) (string, error) {
	data, err := Canonical(event)
	if err != nil {
		return "", fmt.Errorf("canonicalize event: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Seal связывает событие с предыдущим хешем
func Seal(event map[string]any, prev string) (Record, error) {
	h, err := HashEvent(event)
	if err != nil {
		return Record{}, err
	}
	return Record{Event: event, Prev: prev, Hash: h}, nil
}

// Marshal: строка журнала без завершающего перевода строки
func (r Record) Marshal() ([]byte, error) {
	return Canonical(r)
}

// ParseRecord разбирает строку так, чтобы повторная канонизация event
// давала байт-в-байт ту же запись: числа остаются json.Number.
func ParseRecord(line []byte) (Record, error) {
	var rec Record
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	if err := dec.Decode(&rec); err != nil {
		return Record{}, err
	}
	if rec.Event == nil {
		return Record{}, fmt.Errorf("record has no event")
	}
	return rec, nil
}

// short: усеченный хеш для отчетов
func short(h string) string {
	if len(h) <= 12 {
		return h
	}
	return h[:12]
}
