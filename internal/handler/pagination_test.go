package handler

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestNewPaginatedResponse(t *testing.T) {
	cases := []struct {
		total       int64
		page, limit int
		wantPages   int
		wantMore    bool
	}{
		{0, 1, 10, 0, false},
		{10, 1, 10, 1, false},
		{11, 1, 10, 2, true},
		{11, 2, 10, 2, false},
		{5, 1, 0, 5, true},
	}
	for _, tc := range cases {
		got := NewPaginatedResponse[int](nil, tc.total, tc.page, tc.limit)
		if got.Meta.TotalPages != tc.wantPages || got.Meta.HasMore != tc.wantMore {
			t.Errorf("total=%d page=%d limit=%d: got %+v", tc.total, tc.page, tc.limit, got.Meta)
		}
		if got.Data == nil {
			t.Errorf("data should never be nil")
		}
	}
}

func TestPageParams(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		query               string
		wantPage, wantLimit int
	}{
		{"", 1, 20},
		{"?page=3&limit=5", 3, 5},
		{"?page=0&limit=-1", 1, 20},
		{"?page=x&limit=y", 1, 20},
		{"?limit=500", 1, 50},
	}
	for _, tc := range cases {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/"+tc.query, nil)
		page, limit := pageParams(c, 20, 50)
		if page != tc.wantPage || limit != tc.wantLimit {
			t.Errorf("%q: got page=%d limit=%d", tc.query, page, limit)
		}
	}
}

func TestMapPageKeepsMeta(t *testing.T) {
	p := NewPaginatedResponse([]int{1, 2}, 5, 1, 2)
	got := mapPage(p, strconv.Itoa)
	if len(got.Data) != 2 || got.Data[1] != "2" {
		t.Fatalf("unexpected data %v", got.Data)
	}
	if got.Meta != p.Meta || !got.Meta.HasMore {
		t.Fatalf("meta changed: %+v vs %+v", got.Meta, p.Meta)
	}
}
