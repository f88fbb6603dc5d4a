// Copyright (c) 2025 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package message

import (
	"net/http"
	"sort"
	"strings"
)

// AS2 and MIME header names
const (
	HeaderAS2From                        = "AS2-From"
	HeaderAS2To                          = "AS2-To"
	HeaderAS2Version                     = "AS2-Version"
	HeaderMessageID                      = "Message-ID"
	HeaderDate                           = "Date"
	HeaderSubject                        = "Subject"
	HeaderFrom                           = "From"
	HeaderUserAgent                      = "User-Agent"
	HeaderConnection                     = "Connection"
	HeaderAcceptEncoding                 = "Accept-Encoding"
	HeaderMimeVersion                    = "Mime-Version"
	HeaderContentType                    = "Content-Type"
	HeaderContentTransferEncoding        = "Content-Transfer-Encoding"
	HeaderContentDisposition             = "Content-Disposition"
	HeaderDispositionNotificationTo      = "Disposition-Notification-To"
	HeaderDispositionNotificationOptions = "Disposition-Notification-Options"
	HeaderReceiptDeliveryOption          = "Receipt-Delivery-Option"
)

// AS2Version is the protocol version this implementation speaks.
const AS2Version = "1.1"

type headerField struct {
	name  string
	value string
}

// Headers is an insertion-ordered header mapping with case-insensitive names.
// The zero value is empty and ready to use. Headers is not safe for
// concurrent mutation.
type Headers struct {
	fields []headerField
}

// NewHeaders creates headers from name/value pairs.
func NewHeaders(pairs ...string) Headers {
	var h Headers
	for i := 0; i+1 < len(pairs); i += 2 {
		h.Set(pairs[i], pairs[i+1])
	}
	return h
}

func (h *Headers) index(name string) int {
	for i, f := range h.fields {
		if strings.EqualFold(f.name, name) {
			return i
		}
	}
	return -1
}

// Set sets name to value. An existing field keeps its position.
func (h *Headers) Set(name, value string) {
	if i := h.index(name); i >= 0 {
		h.fields[i].value = value
		return
	}
	h.fields = append(h.fields, headerField{name: name, value: value})
}

// Get returns the value for name, or "" if absent.
func (h Headers) Get(name string) string {
	v, _ := h.Lookup(name)
	return v
}

// Lookup returns the value for name and whether it was present.
func (h Headers) Lookup(name string) (string, bool) {
	if i := h.index(name); i >= 0 {
		return h.fields[i].value, true
	}
	return "", false
}

// Del removes name.
func (h *Headers) Del(name string) {
	if i := h.index(name); i >= 0 {
		h.fields = append(h.fields[:i], h.fields[i+1:]...)
	}
}

// Len returns the number of fields.
func (h Headers) Len() int {
	return len(h.fields)
}

// Names returns the field names in insertion order, as originally cased.
func (h Headers) Names() []string {
	names := make([]string, len(h.fields))
	for i, f := range h.fields {
		names[i] = f.name
	}
	return names
}

// Each calls fn for every field in insertion order.
func (h Headers) Each(fn func(name, value string)) {
	for _, f := range h.fields {
		fn(f.name, f.value)
	}
}

// Clone returns an independent copy.
func (h Headers) Clone() Headers {
	fields := make([]headerField, len(h.fields))
	copy(fields, h.fields)
	return Headers{fields: fields}
}

// Merge sets every field of other on h.
func (h *Headers) Merge(other Headers) {
	for _, f := range other.fields {
		h.Set(f.name, f.value)
	}
}

// HTTPHeader converts the headers for use on an HTTP request or response.
func (h Headers) HTTPHeader() http.Header {
	out := make(http.Header, len(h.fields))
	for _, f := range h.fields {
		out.Set(f.name, f.value)
	}
	return out
}

// FromHTTPHeader converts an HTTP header. Multi-valued fields are joined
// with ", " and fields are ordered by name since http.Header has no order.
func FromHTTPHeader(src http.Header) Headers {
	var h Headers
	for _, name := range sortedKeys(src) {
		h.Set(name, strings.Join(src[name], ", "))
	}
	return h
}

func sortedKeys(src http.Header) []string {
	keys := make([]string, 0, len(src))
	for k := range src {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
