package main

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/njoerd114/watchsync/internal/model"
	wsync "github.com/njoerd114/watchsync/internal/sync"
)

func TestParseItem(t *testing.T) {
	item, err := parseItem([]string{"TV", "1399", "Game", "of", "Thrones"}, itemFlags{releaseDate: "2011-04-17", rating: 8.4, runtime: 60})
	if err != nil {
		t.Fatalf("parseItem: %v", err)
	}
	if item.Kind != model.KindShow || item.ID != 1399 || item.Title != "Game of Thrones" {
		t.Errorf("item = %+v, want tv:1399 Game of Thrones", item)
	}
	if item.Rating == nil || *item.Rating != 8.4 || item.ReleaseDate != "2011-04-17" || item.Runtime != 60 {
		t.Errorf("item extras = %+v, want rating, date and runtime", item)
	}
}

func TestParseItem_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		f    itemFlags
	}{
		{"too few args", []string{"movie", "1"}, itemFlags{}},
		{"unknown kind", []string{"film", "1", "X"}, itemFlags{}},
		{"zero id", []string{"movie", "0", "X"}, itemFlags{}},
		{"blank title", []string{"movie", "1", " "}, itemFlags{}},
		{"bad date", []string{"movie", "1", "X"}, itemFlags{releaseDate: "31/03/1999"}},
		{"rating out of range", []string{"movie", "1", "X"}, itemFlags{rating: 11}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseItem(tt.args, tt.f); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestParseSettingValue(t *testing.T) {
	tests := []struct {
		raw  string
		want any
	}{
		{"42", float64(42)},
		{"true", true},
		{`"quoted"`, "quoted"},
		{"[1,2]", []any{float64(1), float64(2)}},
		{"SE", "SE"},
		{"hello world", "hello world"},
	}
	for _, tt := range tests {
		if got := parseSettingValue(tt.raw); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("parseSettingValue(%q) = %#v, want %#v", tt.raw, got, tt.want)
		}
	}
}

func TestFormatSettingValue(t *testing.T) {
	if got := formatSettingValue("SE"); got != "SE" {
		t.Errorf("formatSettingValue(SE) = %q", got)
	}
	if got := formatSettingValue(map[string]any{"a": 1}); got != `{"a":1}` {
		t.Errorf("formatSettingValue(map) = %q", got)
	}
}

func TestReportResult(t *testing.T) {
	remoteErr := errors.New("connection reset")
	tests := []struct {
		name    string
		res     wsync.Result
		wantOut string
		wantErr bool
	}{
		{"synced", wsync.Result{Changed: true, Synced: true}, "saved and synced", false},
		{"local only", wsync.Result{Changed: true}, "saved on this device", false},
		{"remote failed", wsync.Result{Changed: true, RemoteErr: remoteErr}, "sync failed", false},
		{"no-op", wsync.Result{}, "nothing to change", false},
		{"rolled back", wsync.Result{Changed: true, RolledBack: true, RemoteErr: remoteErr}, "", true},
		{"rejected", wsync.Result{LocalErr: errors.New("empty name")}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out strings.Builder
			err := reportResult(&out, "add", tt.res)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !strings.Contains(out.String(), tt.wantOut) {
				t.Errorf("output = %q, want %q", out.String(), tt.wantOut)
			}
		})
	}
}

func TestKindSummary(t *testing.T) {
	tests := []struct {
		counts map[model.Kind]int
		want   string
	}{
		{nil, "0 items"},
		{map[model.Kind]int{model.KindMovie: 1}, "1 item (movie: 1)"},
		{map[model.Kind]int{model.KindShow: 1, model.KindMovie: 2}, "3 items (movie: 2, tv: 1)"},
	}
	for _, tt := range tests {
		if got := kindSummary(tt.counts); got != tt.want {
			t.Errorf("kindSummary(%v) = %q, want %q", tt.counts, got, tt.want)
		}
	}
}

func TestRenderTable(t *testing.T) {
	out := renderTable([]string{"Key", "Count"}, [][]string{{"favorites", "3"}, {"short"}}, []columnAlignment{alignLeft, alignRight})
	for _, want := range []string{"KEY", "COUNT", "FAVORITES", "SHORT"} {
		requireContains(t, strings.ToUpper(out), want)
	}
	if renderTable(nil, nil, nil) != "" {
		t.Error("renderTable with no headers returned output")
	}
}
