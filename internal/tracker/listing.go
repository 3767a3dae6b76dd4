// Copyright (c) 2025, the seedarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package tracker

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/autoseed/seedarr/internal/domain"
)

// Listing is one tracker search row, normalized from the wire format.
type Listing struct {
	ID              string              `json:"id"`
	Name            string              `json:"name"`
	Description     string              `json:"description,omitempty"`
	Category        string              `json:"category,omitempty"`
	Size            int64               `json:"size"`
	Seeders         int                 `json:"seeders"`
	Leechers        int                 `json:"leechers"`
	Discount        domain.DiscountType `json:"discount"`
	DiscountEndTime *time.Time          `json:"discountEndTime,omitempty"`
}

// SizeGiB converts the byte size to GiB for rule bounds.
func (l *Listing) SizeGiB() float64 {
	return float64(l.Size) / float64(1<<30)
}

// wireListing mirrors the tracker's search row. Numeric fields arrive as JSON
// strings, sometimes as numbers, so everything goes through flexString.
type wireListing struct {
	ID         flexString `json:"id"`
	Name       string     `json:"name"`
	SmallDescr string     `json:"smallDescr"`
	Category   flexString `json:"category"`
	Size       flexString `json:"size"`
	Status     struct {
		Seeders         flexString `json:"seeders"`
		Leechers        flexString `json:"leechers"`
		Discount        string     `json:"discount"`
		DiscountEndTime flexString `json:"discountEndTime"`
	} `json:"status"`
}

func (w *wireListing) toListing() Listing {
	l := Listing{
		ID:          string(w.ID),
		Name:        w.Name,
		Description: w.SmallDescr,
		Category:    string(w.Category),
		Size:        parseInt64(string(w.Size)),
		Seeders:     int(parseInt64(string(w.Status.Seeders))),
		Leechers:    int(parseInt64(string(w.Status.Leechers))),
		Discount:    parseDiscount(w.Status.Discount),
	}
	if t, ok := parsePromoEnd(string(w.Status.DiscountEndTime)); ok {
		l.DiscountEndTime = &t
	}
	return l
}

// parseDiscount maps the wire discount onto the known vocabulary. Anything
// unrecognized is treated as no discount, so new promo types fail closed for
// free-only rules.
func parseDiscount(raw string) domain.DiscountType {
	switch d := domain.DiscountType(strings.TrimSpace(raw)); d {
	case domain.DiscountFree, domain.DiscountPercent50, domain.Discount2X,
		domain.Discount2XFree, domain.Discount2XPercent50:
		return d
	}
	return domain.DiscountNone
}

// parsePromoEnd accepts the tracker's "2006-01-02 15:04:05" wall-clock form,
// RFC 3339, and epoch milliseconds.
func parsePromoEnd(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return time.Time{}, false
	}

	if t, err := time.ParseInLocation("2006-01-02 15:04:05", raw, time.Local); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, true
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil && ms > 0 {
		return time.UnixMilli(ms), true
	}

	return time.Time{}, false
}

func parseInt64(raw string) int64 {
	v, _ := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	return v
}

// flexString unmarshals a JSON string, number, or null into a string.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(data)
	return nil
}
