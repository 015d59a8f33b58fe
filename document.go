// SPDX-FileCopyrightText: 2024 NOI Techpark <digital@noi.bz.it>
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package playground

import "sync"

// MemoryDocument is an in-process Document implementation, used by the CLI
// host and by tests. It fires its change notification exactly once per
// genuine content mutation and rejects user edits when read-only.
type MemoryDocument struct {
	mu       sync.Mutex
	content  string
	readOnly bool
	onChange func(content string)
}

func NewMemoryDocument(readOnly bool) *MemoryDocument {
	return &MemoryDocument{readOnly: readOnly}
}

func (d *MemoryDocument) Content() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.content
}

func (d *MemoryDocument) ReadOnly() bool {
	return d.readOnly
}

func (d *MemoryDocument) OnContentChange(fn func(content string)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onChange = fn
}

// ReplaceContent fully replaces the buffer. This is the controller-facing
// operation and applies even when the document is read-only; read-only
// restricts user edits, not external pushes.
func (d *MemoryDocument) ReplaceContent(content string) {
	d.mu.Lock()
	if content == d.content {
		d.mu.Unlock()
		return
	}
	d.content = content
	fn := d.onChange
	d.mu.Unlock()

	if fn != nil {
		fn(content)
	}
}

// Edit is the user-facing mutation. Rejected when read-only, no-op when the
// content does not actually change. Reports whether the edit was applied.
func (d *MemoryDocument) Edit(content string) bool {
	if d.readOnly {
		return false
	}

	d.mu.Lock()
	if content == d.content {
		d.mu.Unlock()
		return false
	}
	d.content = content
	fn := d.onChange
	d.mu.Unlock()

	if fn != nil {
		fn(content)
	}
	return true
}
