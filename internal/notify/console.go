package notify

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// ConsoleToaster prints toasts as lines, for headless runs.
type ConsoleToaster struct {
	mu  sync.Mutex
	w   io.Writer
	now func() time.Time
}

func NewConsoleToaster(w io.Writer) *ConsoleToaster {
	return &ConsoleToaster{w: w, now: time.Now}
}

func (c *ConsoleToaster) Show(t Toast) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, "%s %-7s %s %s\n", c.now().Format("15:04:05"), t.Style, t.Icon, t.Message)
}
