package cart

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
)

// HTTPProvider fetches snapshots from the cart service.
type HTTPProvider struct {
	baseURL         *url.URL
	client          *http.Client
	defaultCurrency string
}

type cartItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type cartResponse struct {
	ID          string          `json:"cartId"`
	UserID      string          `json:"userId"`
	Items       []cartItem      `json:"items"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	Currency    string          `json:"currency"`
}

// NewHTTPProvider panics on an unparsable base URL since that is a config error.
func NewHTTPProvider(baseURL string, client *http.Client, defaultCurrency string) *HTTPProvider {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		panic(fmt.Sprintf("invalid cart base url %q: %v", baseURL, err))
	}
	if client == nil {
		client = http.DefaultClient
	}
	if defaultCurrency == "" {
		defaultCurrency = "USD"
	}
	return &HTTPProvider{baseURL: u, client: client, defaultCurrency: strings.ToUpper(defaultCurrency)}
}

func (p *HTTPProvider) GetCartAmount(ctx context.Context, cartID string) (Snapshot, error) {
	rel := &url.URL{Path: "/api/carts/" + url.PathEscape(cartID)}
	u := p.baseURL.ResolveReference(rel)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Snapshot{}, fmt.Errorf("cart: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return Snapshot{}, fmt.Errorf("cart: get %s: %w", cartID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrCartNotFound, cartID)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Snapshot{}, fmt.Errorf("cart: get %s: unexpected status %d: %s", cartID, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var cr cartResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return Snapshot{}, fmt.Errorf("cart: decode %s: %w", cartID, err)
	}

	items := 0
	for _, it := range cr.Items {
		items += it.Quantity
	}
	currency := strings.ToUpper(strings.TrimSpace(cr.Currency))
	if currency == "" {
		currency = p.defaultCurrency
	}
	id := cr.ID
	if id == "" {
		id = cartID
	}
	return Snapshot{
		CartID:    id,
		UserID:    cr.UserID,
		Amount:    cr.TotalAmount,
		Currency:  currency,
		ItemCount: items,
	}, nil
}
