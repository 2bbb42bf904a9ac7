// Package logger writes prefixed, levelled log lines through a buffered
// background writer so request paths never block on log output.
package logger

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
)

const asyncBufferSize = 8192

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelError
)

// ParseLevel maps LOG_LEVEL values to a Level. Unknown values mean info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "trace":
		return LevelDebug
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

var (
	mu     sync.RWMutex
	prefix string
	level  = LevelInfo

	ch   chan string
	once sync.Once
)

func initWorker() {
	ch = make(chan string, asyncBufferSize)
	go func() {
		for msg := range ch {
			log.Print(msg)
		}
	}()
}

func enqueue(msg string) {
	once.Do(initWorker)
	select {
	case ch <- msg:
	default:
		// buffer full, drop
	}
}

// Init sets the service prefix and reads LOG_LEVEL.
func Init(p string) {
	SetPrefix(p)
	SetLevel(ParseLevel(os.Getenv("LOG_LEVEL")))
}

func SetPrefix(p string) {
	mu.Lock()
	prefix = p
	mu.Unlock()
}

func SetLevel(l Level) {
	mu.Lock()
	level = l
	mu.Unlock()
}

func enabled(l Level) bool {
	mu.RLock()
	defer mu.RUnlock()
	return l >= level
}

func tag(lvl string) string {
	mu.RLock()
	p := prefix
	mu.RUnlock()
	if p == "" {
		return lvl + " "
	}
	return "[" + p + "] " + lvl + " "
}

func Debugf(format string, v ...any) {
	if enabled(LevelDebug) {
		enqueue(tag("DEBUG") + fmt.Sprintf(format, v...))
	}
}

func Infof(format string, v ...any) {
	if enabled(LevelInfo) {
		enqueue(tag("INFO") + fmt.Sprintf(format, v...))
	}
}

func Errorf(format string, v ...any) {
	enqueue(tag("ERROR") + fmt.Sprintf(format, v...))
}

// Fatalf logs synchronously and exits.
func Fatalf(format string, v ...any) {
	log.Fatalf(tag("FATAL")+format, v...)
}
