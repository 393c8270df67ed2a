package nft

import (
	"fmt"
	"slices"
)

// Status is the fetch status of the burn listing.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusFetching Status = "fetching"
	StatusReady    Status = "ready"
	StatusError    Status = "error"
)

// PerPageOptions are the page sizes the listing offers.
var PerPageOptions = []int{4, 10, 20, 100}

// ViewState is the state of the burn listing: what was fetched, which page
// is shown and which NFT is selected for burning. It only changes via Reduce.
type ViewState struct {
	Status   Status     `json:"status"`
	Owner    string     `json:"owner,omitempty"`
	NFTs     []Metadata `json:"nfts"`
	PerPage  int        `json:"per_page"`
	Page     int        `json:"page"`
	Selected *Metadata  `json:"selected,omitempty"`
	Burning  bool       `json:"burning"`
	Err      string     `json:"error,omitempty"`
}

func NewViewState() ViewState {
	return ViewState{Status: StatusIdle, PerPage: PerPageOptions[0], Page: 1}
}

// Action is an event applied to a ViewState.
type Action interface {
	apply(ViewState) (ViewState, error)
}

type (
	FetchStarted   struct{ Owner string }
	FetchSucceeded struct{ NFTs []Metadata }
	FetchFailed    struct{ Err error }
	Select         struct{ Mint string }
	Unselect       struct{}
	BurnStarted    struct{}
	BurnSucceeded  struct{}
	BurnFailed     struct{ Err error }
	SetPerPage     struct{ PerPage int }
	SetPage        struct{ Page int }
)

// Reduce applies a to s. Invalid transitions return s unchanged and an error.
func Reduce(s ViewState, a Action) (ViewState, error) {
	next, err := a.apply(s)
	if err != nil {
		return s, err
	}
	return next, nil
}

func invalid(s ViewState, a Action) error {
	return fmt.Errorf("cannot apply %T in status %s", a, s.Status)
}

func (a FetchStarted) apply(s ViewState) (ViewState, error) {
	if s.Burning {
		return s, invalid(s, a)
	}
	s.Status = StatusFetching
	s.Owner = a.Owner
	s.Err = ""
	return s, nil
}

func (a FetchSucceeded) apply(s ViewState) (ViewState, error) {
	if s.Status != StatusFetching {
		return s, invalid(s, a)
	}
	s.Status = StatusReady
	s.NFTs = slices.Clone(a.NFTs)
	s.Selected = nil
	s.Page = 1
	return s, nil
}

func (a FetchFailed) apply(s ViewState) (ViewState, error) {
	if s.Status != StatusFetching {
		return s, invalid(s, a)
	}
	s.Status = StatusError
	s.Err = a.Err.Error()
	return s, nil
}

func (a Select) apply(s ViewState) (ViewState, error) {
	if s.Status != StatusReady || s.Burning {
		return s, invalid(s, a)
	}
	i := slices.IndexFunc(s.NFTs, func(m Metadata) bool { return m.Mint == a.Mint })
	if i < 0 {
		return s, fmt.Errorf("mint %s is not in the listing", a.Mint)
	}
	selected := s.NFTs[i]
	s.Selected = &selected
	return s, nil
}

func (a Unselect) apply(s ViewState) (ViewState, error) {
	if s.Burning {
		return s, invalid(s, a)
	}
	s.Selected = nil
	return s, nil
}

func (a BurnStarted) apply(s ViewState) (ViewState, error) {
	if s.Status != StatusReady || s.Selected == nil || s.Burning {
		return s, invalid(s, a)
	}
	s.Burning = true
	s.Err = ""
	return s, nil
}

func (a BurnSucceeded) apply(s ViewState) (ViewState, error) {
	if !s.Burning {
		return s, invalid(s, a)
	}
	mint := s.Selected.Mint
	s.NFTs = slices.DeleteFunc(slices.Clone(s.NFTs), func(m Metadata) bool { return m.Mint == mint })
	s.Burning = false
	s.Selected = nil
	s.Page = min(s.Page, max(PageCount(len(s.NFTs), s.PerPage), 1))
	return s, nil
}

func (a BurnFailed) apply(s ViewState) (ViewState, error) {
	if !s.Burning {
		return s, invalid(s, a)
	}
	s.Burning = false
	s.Err = a.Err.Error()
	return s, nil
}

func (a SetPerPage) apply(s ViewState) (ViewState, error) {
	if !slices.Contains(PerPageOptions, a.PerPage) {
		return s, fmt.Errorf("per page must be one of %v", PerPageOptions)
	}
	s.PerPage = a.PerPage
	s.Page = min(s.Page, max(PageCount(len(s.NFTs), s.PerPage), 1))
	return s, nil
}

func (a SetPage) apply(s ViewState) (ViewState, error) {
	last := max(PageCount(len(s.NFTs), s.PerPage), 1)
	if a.Page < 1 || a.Page > last {
		return s, fmt.Errorf("page %d out of range 1-%d", a.Page, last)
	}
	s.Page = a.Page
	return s, nil
}

// CurrentPage returns the NFTs shown on the current page.
func (s ViewState) CurrentPage() []Metadata {
	return Paginate(s.NFTs, s.Page, s.PerPage)
}

// PageCount is the number of pages needed for n items.
func PageCount(n, perPage int) int {
	if perPage <= 0 {
		return 0
	}
	return (n + perPage - 1) / perPage
}

// Paginate returns the 1-based page of items, or nil when page is out of range.
func Paginate[T any](items []T, page, perPage int) []T {
	if page < 1 || perPage <= 0 {
		return nil
	}
	lo := (page - 1) * perPage
	if lo >= len(items) {
		return nil
	}
	return items[lo:min(lo+perPage, len(items))]
}
