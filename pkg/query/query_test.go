package query

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestMatchHost(t *testing.T) {
	tests := []struct {
		host    string
		pattern string
		want    bool
	}{
		{"api.example.com", "*", true},
		{"api.example.com", "", true},
		{"api.example.com", "*.example.com", true},
		{"example.com", "*.example.com", true},
		{"api.example.com:8443", "*.example.com", true},
		{"API.Example.COM", "*.example.com", true},
		{"notexample.com", "*.example.com", false},
		{"example.com.evil.io", "*.example.com", false},
		{"myapi.internal", "api", true},
		{"MyAPI.internal:8080", "api", true},
		{"www.example.com", "api", false},
		{"www.example.com:8080", "8080", true},
	}

	for _, tt := range tests {
		if got := MatchHost(tt.host, tt.pattern); got != tt.want {
			t.Errorf("MatchHost(%q, %q) = %v, want %v", tt.host, tt.pattern, got, tt.want)
		}
	}
}

func TestPaginate(t *testing.T) {
	tests := []struct {
		total, size, page int
		want              Pagination
	}{
		{0, 100, 1, Pagination{Page: 1, PageSize: 100, TotalPages: 1, Total: 0, FirstRow: 0, LastRow: 0}},
		{0, 100, 5, Pagination{Page: 1, PageSize: 100, TotalPages: 1, Total: 0, FirstRow: 0, LastRow: 0}},
		{1, 50, 1, Pagination{Page: 1, PageSize: 50, TotalPages: 1, Total: 1, FirstRow: 1, LastRow: 1}},
		{100, 100, 1, Pagination{Page: 1, PageSize: 100, TotalPages: 1, Total: 100, FirstRow: 1, LastRow: 100}},
		{101, 100, 2, Pagination{Page: 2, PageSize: 100, TotalPages: 2, Total: 101, FirstRow: 101, LastRow: 101}},
		{250, 100, 9, Pagination{Page: 3, PageSize: 100, TotalPages: 3, Total: 250, FirstRow: 201, LastRow: 250}},
		{250, 100, -4, Pagination{Page: 1, PageSize: 100, TotalPages: 3, Total: 250, FirstRow: 1, LastRow: 100}},
	}

	for _, tt := range tests {
		got := Paginate(tt.total, tt.size, tt.page)
		if got != tt.want {
			t.Errorf("Paginate(%d, %d, %d) = %+v, want %+v", tt.total, tt.size, tt.page, got, tt.want)
		}
	}
}

func TestPaginateProperties(t *testing.T) {
	for _, size := range PageSizes {
		for total := 0; total <= 2100; total += 37 {
			last := Paginate(total, size, 1<<30)
			wantPages := (total + size - 1) / size
			if wantPages < 1 {
				wantPages = 1
			}
			if last.TotalPages != wantPages {
				t.Fatalf("total=%d size=%d: TotalPages = %d, want %d", total, size, last.TotalPages, wantPages)
			}
			for p := 1; p <= last.TotalPages; p++ {
				pg := Paginate(total, size, p)
				if total == 0 {
					if pg.FirstRow != 0 || pg.LastRow != 0 {
						t.Fatalf("empty result must collapse to 0-0, got %s", pg)
					}
					continue
				}
				if pg.FirstRow != (p-1)*size+1 || pg.LastRow != min(p*size, total) {
					t.Fatalf("total=%d size=%d page=%d: bad range %s", total, size, p, pg)
				}
			}
		}
	}
}

func TestPaginationString(t *testing.T) {
	got := Paginate(250, 100, 3).String()
	if got != "Page 3/3 · Rows 201-250/250" {
		t.Errorf("unexpected string: %s", got)
	}
	got = Paginate(0, 100, 1).String()
	if got != "Page 1/1 · Rows 0-0/0" {
		t.Errorf("unexpected string: %s", got)
	}
}

func TestValidPageSize(t *testing.T) {
	for _, n := range PageSizes {
		if !ValidPageSize(n) {
			t.Errorf("%d should be valid", n)
		}
	}
	for _, n := range []int{0, -1, 7, 99, 10000} {
		if ValidPageSize(n) {
			t.Errorf("%d should be invalid", n)
		}
	}
}

func TestPoolRunsAllTasks(t *testing.T) {
	p := NewPool(3)

	var n atomic.Int64
	var wg sync.WaitGroup
	for range 200 {
		wg.Add(1)
		if err := p.Submit(func() {
			defer wg.Done()
			n.Add(1)
		}); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	wg.Wait()
	p.Close()

	if n.Load() != 200 {
		t.Errorf("expected 200 tasks run, got %d", n.Load())
	}
	if err := p.Submit(func() {}); err != ErrClosed {
		t.Errorf("expected ErrClosed after Close, got %v", err)
	}
}

func TestPoolCloseDrainsQueue(t *testing.T) {
	p := NewPool(1)
	block := make(chan struct{})
	var n atomic.Int64

	p.Submit(func() { <-block })
	for range 10 {
		p.Submit(func() { n.Add(1) })
	}
	close(block)
	p.Close()

	if n.Load() != 10 {
		t.Errorf("queued tasks must run before Close returns, ran %d", n.Load())
	}
}
