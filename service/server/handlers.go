package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/brojonat/pentacle/service/db"
	"github.com/brojonat/pentacle/service/nft"
	"github.com/brojonat/pentacle/service/sned"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB - plenty for a few thousand addresses
	maxAddressLength   = 100     // Solana addresses are 44 chars, give buffer
	maxMetadataMints   = 100
)

var (
	// Valid Solana address characters: base58 (no 0, O, I, l)
	validAddressRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)
)

// createBatchRequest accepts addresses either as one string in any format the
// address list parser understands, or as a JSON array.
type createBatchRequest struct {
	Addresses json.RawMessage `json:"addresses"`
	AmountSOL json.Number     `json:"amount_sol"`
}

type createBatchResponse struct {
	BatchID    string                 `json:"batch_id"`
	WorkflowID string                 `json:"workflow_id"`
	Requests   []sned.TransferRequest `json:"requests"`
}

// handleCreateBatch returns a handler that parses a batch and starts sending it.
// POST /api/v1/batches
func handleCreateBatch(starter BatchStarter, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if starter == nil {
			writeError(w, "batch sending is not configured", http.StatusServiceUnavailable)
			return
		}

		// Limit request body size to prevent memory exhaustion
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req createBatchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Debug("failed to decode batch request", "error", err)
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				writeError(w, "request body too large: maximum size is 1MB", http.StatusBadRequest)
				return
			}
			writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
			return
		}

		raw, err := addressInput(req.Addresses)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		addresses := sned.ParseAddressList(raw)
		if len(addresses) == 0 {
			writeError(w, "addresses is required", http.StatusBadRequest)
			return
		}

		lamports, err := sned.ParseSOL(req.AmountSOL.String())
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		requests := sned.Aggregate(addresses, lamports)
		batchID := uuid.New()

		workflowID, err := starter.StartSendBatch(r.Context(), batchID, requests)
		if err != nil {
			logger.Error("failed to start batch", "batch_id", batchID, "error", err)
			writeError(w, "failed to start batch", http.StatusInternalServerError)
			return
		}

		logger.Info("batch accepted",
			"batch_id", batchID,
			"workflow_id", workflowID,
			"addresses", len(addresses),
			"requests", len(requests),
			"lamports", sned.TotalLamports(requests),
		)

		writeJSON(w, createBatchResponse{
			BatchID:    batchID.String(),
			WorkflowID: workflowID,
			Requests:   requests,
		}, http.StatusAccepted)
	})
}

// addressInput turns the addresses field into parser input: a JSON string is
// unquoted, a JSON array is passed through as text.
func addressInput(raw json.RawMessage) (string, error) {
	trimmed := strings.TrimSpace(string(raw))
	switch {
	case trimmed == "" || trimmed == "null":
		return "", nil
	case strings.HasPrefix(trimmed, `"`):
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", errorf("invalid addresses: %v", err)
		}
		return s, nil
	case strings.HasPrefix(trimmed, "["):
		return trimmed, nil
	default:
		return "", errorf("addresses must be a string or an array of strings")
	}
}

type batchResponse struct {
	*db.Batch
	Entries []sned.ReportEntry `json:"entries"`
}

// handleGetBatch returns a handler that retrieves a stored batch report.
// GET /api/v1/batches/{id}
func handleGetBatch(store BatchReader, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			writeError(w, "batch storage is not configured", http.StatusServiceUnavailable)
			return
		}

		id, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			writeError(w, "invalid batch id", http.StatusBadRequest)
			return
		}

		batch, err := store.GetBatch(r.Context(), id)
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, "batch not found", http.StatusNotFound)
			return
		}
		if err != nil {
			logger.Error("failed to get batch", "batch_id", id, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		report := sned.Report{Outcomes: batch.Outcomes}
		writeJSON(w, batchResponse{Batch: batch, Entries: report.Entries()}, http.StatusOK)
	})
}

type nftPageResponse struct {
	Owner   string         `json:"owner"`
	Total   int            `json:"total"`
	Page    int            `json:"page"`
	PerPage int            `json:"per_page"`
	Pages   int            `json:"pages"`
	NFTs    []nft.Metadata `json:"nfts"`
}

// handleListNFTs returns a handler that lists one page of a wallet's NFTs.
// GET /api/v1/wallets/{address}/nfts?page=N&per_page=N
func handleListNFTs(nfts NFTReader, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if nfts == nil {
			writeError(w, "nft lookups are not configured", http.StatusServiceUnavailable)
			return
		}
		owner, ok := pathAddress(w, r, logger)
		if !ok {
			return
		}

		perPage, err := intParam(r, "per_page", nft.PerPageOptions[0])
		if err != nil || !slices.Contains(nft.PerPageOptions, perPage) {
			writeError(w, fmt.Sprintf("per_page must be one of %v", nft.PerPageOptions), http.StatusBadRequest)
			return
		}
		page, err := intParam(r, "page", 1)
		if err != nil || page < 1 {
			writeError(w, "page must be a positive integer", http.StatusBadRequest)
			return
		}

		owned, err := nfts.OwnedNFTs(r.Context(), owner)
		if err != nil {
			logger.Error("failed to list nfts", "owner", owner, "error", err)
			writeError(w, "failed to list nfts", http.StatusBadGateway)
			return
		}

		items := nft.Paginate(owned, page, perPage)
		if items == nil {
			items = []nft.Metadata{}
		}
		writeJSON(w, nftPageResponse{
			Owner:   owner.String(),
			Total:   len(owned),
			Page:    page,
			PerPage: perPage,
			Pages:   nft.PageCount(len(owned), perPage),
			NFTs:    items,
		}, http.StatusOK)
	})
}

// handleListMints returns a handler that lists the mints a wallet holds.
// GET /api/v1/wallets/{address}/mints
func handleListMints(nfts NFTReader, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if nfts == nil {
			writeError(w, "nft lookups are not configured", http.StatusServiceUnavailable)
			return
		}
		owner, ok := pathAddress(w, r, logger)
		if !ok {
			return
		}

		mints, err := nfts.OwnedMints(r.Context(), owner)
		if err != nil {
			logger.Error("failed to list mints", "owner", owner, "error", err)
			writeError(w, "failed to list mints", http.StatusBadGateway)
			return
		}

		out := make([]string, len(mints))
		for i, m := range mints {
			out[i] = m.String()
		}
		writeJSON(w, map[string]any{
			"owner": owner.String(),
			"mints": out,
			"count": len(out),
		}, http.StatusOK)
	})
}

// handleStuckSOL returns a handler that reports SOL held by candy machine accounts.
// GET /api/v1/wallets/{address}/stuck-sol
func handleStuckSOL(finder StuckSOLFinder, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if finder == nil {
			writeError(w, "stuck SOL lookups are not configured", http.StatusServiceUnavailable)
			return
		}
		authority, ok := pathAddress(w, r, logger)
		if !ok {
			return
		}

		stuck, err := finder.Find(r.Context(), authority)
		if err != nil {
			logger.Error("failed to find stuck sol", "authority", authority, "error", err)
			writeError(w, "failed to find stuck SOL", http.StatusBadGateway)
			return
		}

		writeJSON(w, map[string]any{
			"authority": stuck.Authority,
			"accounts":  stuck.Accounts,
			"lamports":  stuck.Lamports,
			"sol":       stuck.SOL(),
			"message":   stuck.String(),
		}, http.StatusOK)
	})
}

// handleBalance returns a handler that reports a wallet's SOL balance.
// GET /api/v1/wallets/{address}/balance
func handleBalance(balances BalanceReader, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if balances == nil {
			writeError(w, "balance lookups are not configured", http.StatusServiceUnavailable)
			return
		}
		account, ok := pathAddress(w, r, logger)
		if !ok {
			return
		}

		lamports, err := balances.Balance(r.Context(), account)
		if err != nil {
			logger.Error("failed to get balance", "address", account, "error", err)
			writeError(w, "failed to get balance", http.StatusBadGateway)
			return
		}

		writeJSON(w, map[string]any{
			"address":  account.String(),
			"lamports": lamports,
			"sol":      sned.LamportsToSOL(lamports).String(),
			"as_of":    time.Now().UTC(),
		}, http.StatusOK)
	})
}

// handleMetadata returns a handler that resolves metadata for the given mints.
// GET /api/v1/metadata?mint=A&mint=B
func handleMetadata(nfts NFTReader, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if nfts == nil {
			writeError(w, "nft lookups are not configured", http.StatusServiceUnavailable)
			return
		}

		raw := r.URL.Query()["mint"]
		if len(raw) == 0 {
			writeError(w, "mint query parameter is required", http.StatusBadRequest)
			return
		}
		if len(raw) > maxMetadataMints {
			writeError(w, fmt.Sprintf("at most %d mints per request", maxMetadataMints), http.StatusBadRequest)
			return
		}

		mints := make([]solanago.PublicKey, len(raw))
		for i, m := range raw {
			pk, err := parseAddress(m)
			if err != nil {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
			mints[i] = pk
		}

		metadata := nfts.Metadata(r.Context(), mints)
		logger.Debug("metadata resolved", "count", len(metadata))
		writeJSON(w, map[string]any{"metadata": metadata}, http.StatusOK)
	})
}

// pathAddress parses the {address} path value, writing a 400 on failure.
func pathAddress(w http.ResponseWriter, r *http.Request, logger *slog.Logger) (solanago.PublicKey, bool) {
	address := r.PathValue("address")
	pk, err := parseAddress(address)
	if err != nil {
		logger.Debug("invalid address", "address", address, "error", err)
		writeError(w, err.Error(), http.StatusBadRequest)
		return solanago.PublicKey{}, false
	}
	return pk, true
}

func parseAddress(address string) (solanago.PublicKey, error) {
	if err := validateAddress(address); err != nil {
		return solanago.PublicKey{}, err
	}
	pk, err := solanago.PublicKeyFromBase58(address)
	if err != nil {
		return solanago.PublicKey{}, errorf("invalid address: %v", err)
	}
	return pk, nil
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// validateAddress validates a wallet address for security and format.
func validateAddress(address string) error {
	if address == "" {
		return errorf("address is required")
	}

	if len(address) > maxAddressLength {
		return errorf("address too long: maximum length is %d characters", maxAddressLength)
	}

	// Check for null bytes and control characters
	for _, r := range address {
		if r == 0 || unicode.IsControl(r) {
			return errorf("invalid characters in address: control characters not allowed")
		}
	}

	if !validAddressRegex.MatchString(address) {
		return errorf("invalid address format: must contain only valid base58 characters")
	}

	return nil
}

// errorf is a helper to format error strings.
func errorf(format string, args ...any) error {
	return &validationError{msg: strings.TrimSpace(fmt.Sprintf(format, args...))}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}
