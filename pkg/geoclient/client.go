/**
 * @description
 * This package provides a small client for the geocoding service used to
 * validate free-text shipping addresses during item drops. It resolves a
 * customer-typed address to a structured result with a country code, which the
 * item-drop state machine checks against the drop's country restriction.
 *
 * @dependencies
 * - context, encoding/json, fmt, net/http, net/url, time: Standard Go libraries.
 */
package geoclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"encoding/json"
)

// ErrAddressNotFound is returned when the geocoder cannot resolve the input.
var ErrAddressNotFound = errors.New("address not found")

// Address is a geocoded shipping address.
type Address struct {
	Formatted   string `json:"formatted_address"`
	CountryCode string `json:"country_code"`
}

// Client is a client for the geocoding HTTP API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new geocoding client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Geocode resolves a free-text address, biased toward the given country.
func (c *Client) Geocode(ctx context.Context, freeText, countryHint string) (*Address, error) {
	q := url.Values{}
	q.Set("address", freeText)
	if countryHint != "" {
		q.Set("region", countryHint)
	}
	q.Set("key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/geocode?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geocode: status %d", resp.StatusCode)
	}

	var body struct {
		Status  string    `json:"status"`
		Results []Address `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("geocode: decode response: %w", err)
	}
	if body.Status == "ZERO_RESULTS" || len(body.Results) == 0 {
		return nil, ErrAddressNotFound
	}
	return &body.Results[0], nil
}
