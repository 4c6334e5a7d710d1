package iocli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Stream IO поверх произвольных потоков (stdin/stdout или буферы cobra)
type Stream struct {
	in  *bufio.Reader
	out io.Writer
}

// New создает IO, читающий из in и пишущий в out
func New(in io.Reader, out io.Writer) *Stream {
	return &Stream{in: bufio.NewReader(in), out: out}
}

// NewStdio IO для терминала
func NewStdio() IO {
	return New(os.Stdin, os.Stdout)
}

func (s *Stream) Println(a ...any) {
	_, _ = fmt.Fprintln(s.out, a...)
}

func (s *Stream) Printf(format string, a ...any) {
	_, _ = fmt.Fprintf(s.out, format, a...)
}

func (s *Stream) Write(p []byte) (int, error) {
	return s.out.Write(p)
}

// ReadInput печатает приглашение и читает одну строку без пробелов по краям.
// Последняя строка без перевода строки тоже считается вводом.
func (s *Stream) ReadInput(prompt string) (string, error) {
	s.Printf("%s", prompt)
	input, err := s.in.ReadString('\n')
	if err != nil && (err != io.EOF || input == "") {
		return "", err
	}
	return strings.TrimSpace(input), nil
}
