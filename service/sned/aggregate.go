package sned

// TransferRequest is one native SOL transfer to make.
type TransferRequest struct {
	Destination string `json:"destination"`
	Lamports    uint64 `json:"lamports"`
}

// Aggregate turns an address list into transfer requests, one per distinct
// destination in first-occurrence order. A destination listed n times
// receives n*perAddress lamports in a single transfer, so the total sent
// always equals perAddress*len(addresses).
func Aggregate(addresses []string, perAddress uint64) []TransferRequest {
	index := make(map[string]int, len(addresses))
	requests := make([]TransferRequest, 0, len(addresses))

	for _, addr := range addresses {
		if i, ok := index[addr]; ok {
			requests[i].Lamports += perAddress
			continue
		}
		index[addr] = len(requests)
		requests = append(requests, TransferRequest{Destination: addr, Lamports: perAddress})
	}
	return requests
}

// TotalLamports sums the lamports of requests.
func TotalLamports(requests []TransferRequest) uint64 {
	var total uint64
	for _, r := range requests {
		total += r.Lamports
	}
	return total
}
