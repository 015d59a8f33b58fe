// SPDX-FileCopyrightText: 2024 NOI Techpark <digital@noi.bz.it>
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package playground

import "sync"

// Document is the editable-document collaborator. The widget does not own
// the editor; it only needs full-content replacement, a content accessor,
// and a change notification that fires exactly once per genuine mutation.
// Read-only enforcement happens at the document's own edit surface.
type Document interface {
	Content() string
	ReplaceContent(content string)
	OnContentChange(fn func(content string))
	ReadOnly() bool
}

// CodeSync owns the canonical code value and mediates between external
// pushes and local edits so both representations converge without update
// loops or lost edits.
type CodeSync struct {
	mu           sync.Mutex
	code         string
	doc          Document
	applyingPush bool
	listeners    []func(code string)
	logger       Logger
}

// NewCodeSync seeds the controller with the initial code, initializes the
// document with that text and subscribes to its change notifications.
func NewCodeSync(doc Document, initial string) *CodeSync {
	c := &CodeSync{
		code:   initial,
		doc:    doc,
		logger: NewNoopLogger(),
	}
	if doc.Content() != initial {
		c.applyingPush = true
		doc.ReplaceContent(initial)
		c.applyingPush = false
	}
	doc.OnContentChange(c.documentChanged)
	return c
}

func (c *CodeSync) SetLogger(logger Logger) {
	c.logger = logger
}

// Code returns the canonical code value.
func (c *CodeSync) Code() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.code
}

// OnChange registers an outward listener for local edits. Listeners fire
// only for genuine changes originating in the document, never for pushes
// echoed back.
func (c *CodeSync) OnChange(fn func(code string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Push applies an external value. Equal values are a no-op so redundant
// pushes never rewrite the document. Reports whether anything changed.
func (c *CodeSync) Push(v string) bool {
	c.mu.Lock()
	if v == c.code {
		c.mu.Unlock()
		return false
	}
	c.code = v

	// The replace below is controller-issued. Flag it so the document's
	// change notification is not re-echoed as a local edit.
	needsReplace := c.doc.Content() != v
	if needsReplace {
		c.applyingPush = true
	}
	c.mu.Unlock()

	if needsReplace {
		c.doc.ReplaceContent(v)
		c.mu.Lock()
		c.applyingPush = false
		c.mu.Unlock()
	}

	c.logger.Debug("[Sync] external push applied (%d bytes)", len(v))
	return true
}

// documentChanged handles the document's change notification. Content equal
// to the current code yields no outward notification.
func (c *CodeSync) documentChanged(content string) {
	c.mu.Lock()
	if c.applyingPush || content == c.code {
		c.mu.Unlock()
		return
	}
	c.code = content
	listeners := make([]func(string), len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	c.logger.Debug("[Sync] local edit accepted (%d bytes)", len(content))
	for _, fn := range listeners {
		fn(content)
	}
}
