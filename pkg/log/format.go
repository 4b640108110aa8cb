package log

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// Formatter renders an Entry to a single output line.
type Formatter interface {
	Format(entry *Entry) ([]byte, error)
}

// Output is the destination for formatted lines.
type Output interface {
	Write(line []byte) error
}

// JSONFormatter renders entries as one JSON object per line.
type JSONFormatter struct{}

// Format implements Formatter.
func (f *JSONFormatter) Format(entry *Entry) ([]byte, error) {
	obj := make(map[string]interface{}, len(entry.Fields)+3)
	obj["ts"] = entry.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00")
	obj["level"] = entry.Level.String()
	obj["msg"] = entry.Message
	for _, fld := range entry.Fields {
		obj[fld.Key] = fld.Value
	}
	b, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// TextFormatter renders entries as "ts LEVEL msg key=value ...".
type TextFormatter struct{}

// Format implements Formatter.
func (f *TextFormatter) Format(entry *Entry) ([]byte, error) {
	var b strings.Builder
	b.WriteString(entry.Timestamp.Format("2006-01-02T15:04:05.000"))
	b.WriteByte(' ')
	b.WriteString(entry.Level.String())
	b.WriteByte(' ')
	b.WriteString(entry.Message)
	for _, fld := range entry.Fields {
		b.WriteByte(' ')
		b.WriteString(fld.Key)
		b.WriteByte('=')
		fmt.Fprintf(&b, "%v", fld.Value)
	}
	b.WriteByte('\n')
	return []byte(b.String()), nil
}

// ConsoleOutput writes lines to a writer, stderr by default. The Output
// owns write serialization: every logger derived via With shares its
// parent's Output, so lines from the whole logger tree stay intact.
type ConsoleOutput struct {
	W io.Writer

	mu sync.Mutex
}

// NewConsoleOutput returns a stderr-backed output.
func NewConsoleOutput() *ConsoleOutput { return &ConsoleOutput{W: os.Stderr} }

// Write implements Output.
func (o *ConsoleOutput) Write(line []byte) error {
	w := o.W
	if w == nil {
		w = os.Stderr
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	_, err := w.Write(line)
	return err
}
