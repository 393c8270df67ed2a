package nft

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/pentacle/service/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/errgroup"
)

// maxOffChainBytes caps the size of an off-chain metadata document.
const maxOffChainBytes = 1 << 20

// Metadata is the combined on-chain and off-chain metadata of one mint.
// Failed is set when either part could not be fetched or decoded.
type Metadata struct {
	Mint                 string            `json:"mint"`
	MetadataAccount      string            `json:"metadata_account,omitempty"`
	UpdateAuthority      string            `json:"update_authority,omitempty"`
	Name                 string            `json:"name,omitempty"`
	Symbol               string            `json:"symbol,omitempty"`
	URI                  string            `json:"uri,omitempty"`
	SellerFeeBasisPoints uint16            `json:"seller_fee_basis_points,omitempty"`
	Creators             []Creator         `json:"creators,omitempty"`
	OffChain             *OffChainMetadata `json:"metadata,omitempty"`
	Image                string            `json:"image,omitempty"`
	Video                *File             `json:"video,omitempty"`
	Failed               bool              `json:"failed"`
	Error                string            `json:"error,omitempty"`
}

// OffChainMetadata is the JSON document the metadata URI points at.
type OffChainMetadata struct {
	Name        string      `json:"name"`
	Symbol      string      `json:"symbol,omitempty"`
	Description string      `json:"description,omitempty"`
	Image       string      `json:"image,omitempty"`
	Attributes  []Attribute `json:"attributes,omitempty"`
	Properties  struct {
		Category string `json:"category,omitempty"`
		Files    []File `json:"files,omitempty"`
	} `json:"properties"`
}

type Attribute struct {
	TraitType string `json:"trait_type"`
	Value     any    `json:"value"`
}

type File struct {
	URI  string `json:"uri"`
	Type string `json:"type"`
}

// AccountReader is the read side of the chain client used by the NFT tools.
type AccountReader interface {
	MultipleAccounts(ctx context.Context, accounts []solana.PublicKey) ([]*rpc.Account, error)
	ProgramAccounts(ctx context.Context, program solana.PublicKey, filters ...rpc.RPCFilter) (rpc.GetProgramAccountsResult, error)
	LargestTokenAccounts(ctx context.Context, mint solana.PublicKey) ([]*rpc.TokenLargestAccountsResult, error)
}

// MetadataFetcher resolves metadata for many mints: one batched account read
// for the on-chain part, then bounded parallel HTTP fetches for the off-chain
// documents. Successful results are cached per mint.
type MetadataFetcher struct {
	chain       AccountReader
	http        *http.Client
	cache       *ttlcache.Cache[string, Metadata]
	concurrency int
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

func NewMetadataFetcher(
	chain AccountReader,
	httpClient *http.Client,
	ttl time.Duration,
	concurrency int,
	logger *slog.Logger,
	m *metrics.Metrics,
) *MetadataFetcher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &MetadataFetcher{
		chain: chain,
		http:  httpClient,
		cache: ttlcache.New[string, Metadata](
			ttlcache.WithTTL[string, Metadata](ttl),
			ttlcache.WithDisableTouchOnHit[string, Metadata](),
		),
		concurrency: concurrency,
		logger:      logger.With("component", "metadata"),
		metrics:     m,
	}
}

// Fetch returns one Metadata per mint, in order. It does not fail as a whole:
// a mint whose metadata cannot be resolved comes back with Failed set.
func (f *MetadataFetcher) Fetch(ctx context.Context, mints []solana.PublicKey) []Metadata {
	results := make([]Metadata, len(mints))
	var misses []int
	for i, mint := range mints {
		if item := f.cache.Get(mint.String()); item != nil {
			results[i] = item.Value()
			f.recordCache(true)
			continue
		}
		f.recordCache(false)
		results[i] = Metadata{Mint: mint.String()}
		misses = append(misses, i)
	}
	if len(misses) == 0 {
		return results
	}

	f.fetchOnChain(ctx, mints, misses, results)
	f.fetchOffChain(ctx, misses, results)

	for _, i := range misses {
		if !results[i].Failed {
			f.cache.Set(results[i].Mint, results[i], ttlcache.DefaultTTL)
		}
	}
	return results
}

func (f *MetadataFetcher) fetchOnChain(ctx context.Context, mints []solana.PublicKey, misses []int, results []Metadata) {
	addrs := make([]solana.PublicKey, 0, len(misses))
	idx := make([]int, 0, len(misses))
	for _, i := range misses {
		addr, err := MetadataAddress(mints[i])
		if err != nil {
			fail(&results[i], fmt.Errorf("failed to derive metadata address: %w", err))
			continue
		}
		results[i].MetadataAccount = addr.String()
		addrs = append(addrs, addr)
		idx = append(idx, i)
	}

	accounts, err := f.chain.MultipleAccounts(ctx, addrs)
	if f.metrics != nil {
		f.metrics.RecordMetadataFetch("onchain", err)
	}
	if err != nil {
		f.logger.ErrorContext(ctx, "failed to fetch metadata accounts", "count", len(addrs), "error", err)
		for _, i := range idx {
			fail(&results[i], err)
		}
		return
	}

	for j, acct := range accounts {
		i := idx[j]
		if acct == nil || acct.Data == nil {
			fail(&results[i], fmt.Errorf("metadata account not found"))
			continue
		}
		md, err := decodeMetadata(acct.Data.GetBinary())
		if err != nil {
			fail(&results[i], err)
			continue
		}
		r := &results[i]
		r.UpdateAuthority = md.UpdateAuthority.String()
		r.Name = md.Data.Name
		r.Symbol = md.Data.Symbol
		r.URI = md.Data.URI
		r.SellerFeeBasisPoints = md.Data.SellerFeeBasisPoints
		if md.Data.Creators != nil {
			r.Creators = *md.Data.Creators
		}
	}
}

func (f *MetadataFetcher) fetchOffChain(ctx context.Context, misses []int, results []Metadata) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)

	for _, i := range misses {
		r := &results[i]
		if r.Failed {
			continue
		}
		if r.URI == "" {
			fail(r, fmt.Errorf("metadata has no uri"))
			continue
		}
		g.Go(func() error {
			doc, err := f.fetchDocument(gctx, r.URI)
			if f.metrics != nil {
				f.metrics.RecordMetadataFetch("offchain", err)
			}
			if err != nil {
				f.logger.WarnContext(gctx, "failed to fetch off-chain metadata",
					"mint", r.Mint,
					"uri", r.URI,
					"error", err,
				)
				fail(r, err)
				return nil
			}
			r.OffChain = doc
			r.Image, r.Video = media(doc)
			return nil
		})
	}
	_ = g.Wait()
}

func (f *MetadataFetcher) fetchDocument(ctx context.Context, uri string) (*OffChainMetadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("bad metadata uri: %w", err)
	}
	resp, err := f.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("metadata uri returned status %d", resp.StatusCode)
	}

	var doc OffChainMetadata
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxOffChainBytes)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode off-chain metadata: %w", err)
	}
	return &doc, nil
}

// media picks what to preview: the image if there is one, else the first
// file of a video NFT.
func media(doc *OffChainMetadata) (string, *File) {
	if doc.Image != "" {
		return doc.Image, nil
	}
	if doc.Properties.Category == "video" && len(doc.Properties.Files) > 0 {
		file := doc.Properties.Files[0]
		return "", &file
	}
	return "", nil
}

func (f *MetadataFetcher) recordCache(hit bool) {
	if f.metrics != nil {
		f.metrics.RecordMetadataCacheLookup(hit)
	}
}

func fail(m *Metadata, err error) {
	m.Failed = true
	m.Error = err.Error()
}
