package address

import (
	"context"

	"github.com/l0p7/addrnorm/internal/dadata"
)

//go:generate mockgen -source=upstream.go -destination=../mocks/address/mock_upstream.go -package=mock_address

// Upstream is the external suggestion provider. *dadata.Client satisfies it.
type Upstream interface {
	Suggest(ctx context.Context, req dadata.SuggestRequest) ([]dadata.RawSuggestion, error)
}
