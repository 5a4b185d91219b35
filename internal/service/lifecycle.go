package service

import "sync"

var (
	installMu sync.Mutex
	current   *Sync
)

// Install makes s the process-wide instance. A previously installed
// instance is destroyed first, so at most one is ever active.
func Install(s *Sync) {
	installMu.Lock()
	defer installMu.Unlock()
	if current != nil && current != s {
		current.Destroy()
	}
	current = s
}

// Current returns the installed instance, or nil.
func Current() *Sync {
	installMu.Lock()
	defer installMu.Unlock()
	return current
}

// Uninstall destroys and removes the installed instance.
func Uninstall() {
	installMu.Lock()
	defer installMu.Unlock()
	if current != nil {
		current.Destroy()
		current = nil
	}
}
