// Package kvstore provides the single key/value persistence namespace spec
// §6.3 requires ("SIP/Registry"): one key per registered peer, value
// "[addr]:port:expiry_epoch:username:contact_uri".
//
// No repo in the pack ships a generic embedded KV library for this exact
// shape — flowpbx and sebacius reach for a full SQL database
// (modernc.org/sqlite / jackc/pgx) for their much larger persistence
// surface, which is disproportionate to one namespace of small strings — so
// this package is a small from-scratch file/memory store.
package kvstore

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RegistryNamespace is the single key namespace spec §6.3 defines.
const RegistryNamespace = "SIP/Registry"

// Store is the minimal interface the registrar (C7) persists bindings
// through.
type Store interface {
	Get(namespace, key string) (string, bool, error)
	Put(namespace, key, value string) error
	Delete(namespace, key string) error
	Iterate(namespace string, fn func(key, value string) bool) error
}

// Memory is an in-process, mutex-guarded Store, used by tests and the demo
// driver.
type Memory struct {
	mu   sync.RWMutex
	data map[string]map[string]string
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string]map[string]string)}
}

func (m *Memory) Get(namespace, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ns, ok := m.data[namespace]
	if !ok {
		return "", false, nil
	}
	v, ok := ns[key]
	return v, ok, nil
}

func (m *Memory) Put(namespace, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ns, ok := m.data[namespace]
	if !ok {
		ns = make(map[string]string)
		m.data[namespace] = ns
	}
	ns[key] = value
	return nil
}

func (m *Memory) Delete(namespace, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ns, ok := m.data[namespace]; ok {
		delete(ns, key)
	}
	return nil
}

func (m *Memory) Iterate(namespace string, fn func(key, value string) bool) error {
	m.mu.RLock()
	ns := m.data[namespace]
	entries := make(map[string]string, len(ns))
	for k, v := range ns {
		entries[k] = v
	}
	m.mu.RUnlock()

	for k, v := range entries {
		if !fn(k, v) {
			break
		}
	}
	return nil
}

// File is a newline-delimited "namespace\tkey\tvalue" on-disk Store, fsynced
// on every write so a registrar restart can reload bindings (spec §8
// "Registration persistence" round-trip law).
type File struct {
	mu   sync.Mutex
	path string
	mem  *Memory
}

func OpenFile(path string) (*File, error) {
	f := &File{path: path, mem: NewMemory()}
	if err := f.load(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) load() error {
	fh, err := os.Open(f.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer fh.Close()

	sc := bufio.NewScanner(fh)
	for sc.Scan() {
		parts := strings.SplitN(sc.Text(), "\t", 3)
		if len(parts) != 3 {
			continue
		}
		_ = f.mem.Put(parts[0], parts[1], parts[2])
	}
	return sc.Err()
}

func (f *File) rewrite() error {
	tmp := f.path + ".tmp"
	fh, err := os.Create(tmp)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(fh)
	var iterErr error
	f.mem.mu.RLock()
	for ns, entries := range f.mem.data {
		for k, v := range entries {
			if _, err := fmt.Fprintf(w, "%s\t%s\t%s\n", ns, k, v); err != nil {
				iterErr = err
				break
			}
		}
	}
	f.mem.mu.RUnlock()
	if iterErr == nil {
		iterErr = w.Flush()
	}
	if iterErr == nil {
		iterErr = fh.Sync()
	}
	fh.Close()
	if iterErr != nil {
		os.Remove(tmp)
		return iterErr
	}
	return os.Rename(tmp, f.path)
}

func (f *File) Get(namespace, key string) (string, bool, error) {
	return f.mem.Get(namespace, key)
}

func (f *File) Put(namespace, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.mem.Put(namespace, key, value); err != nil {
		return err
	}
	return f.rewrite()
}

func (f *File) Delete(namespace, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.mem.Delete(namespace, key); err != nil {
		return err
	}
	return f.rewrite()
}

func (f *File) Iterate(namespace string, fn func(key, value string) bool) error {
	return f.mem.Iterate(namespace, fn)
}

// FormatBinding renders the spec §6.3 value format for a registrar binding.
func FormatBinding(addr string, port int, expiry time.Time, username, contact string) string {
	return fmt.Sprintf("%s:%d:%d:%s:%s", addr, port, expiry.Unix(), username, contact)
}

// ParseBinding parses the spec §6.3 value format back into its fields.
func ParseBinding(value string) (addr string, port int, expiry time.Time, username, contact string, err error) {
	rest := value
	if strings.HasPrefix(value, "[") {
		end := strings.Index(value, "]")
		if end < 0 {
			return "", 0, time.Time{}, "", "", fmt.Errorf("kvstore: malformed IPv6 binding value %q", value)
		}
		addr = value[:end+1]
		rest = strings.TrimPrefix(value[end+1:], ":")
	}

	// contact may contain colons (sip: scheme) so only the first three/four
	// fields are fixed-width.
	var parts []string
	if addr != "" {
		parts = strings.SplitN(rest, ":", 4)
		parts = append([]string{addr}, parts...)
	} else {
		parts = strings.SplitN(value, ":", 5)
	}
	if len(parts) < 5 {
		return "", 0, time.Time{}, "", "", fmt.Errorf("kvstore: malformed binding value %q", value)
	}
	addr = parts[0]
	port, err = strconv.Atoi(parts[1])
	if err != nil {
		return "", 0, time.Time{}, "", "", fmt.Errorf("kvstore: bad port in %q: %w", value, err)
	}
	epoch, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return "", 0, time.Time{}, "", "", fmt.Errorf("kvstore: bad expiry in %q: %w", value, err)
	}
	expiry = time.Unix(epoch, 0)
	username = parts[3]
	contact = parts[4]
	return addr, port, expiry, username, contact, nil
}
