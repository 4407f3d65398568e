// Package content talks to the IPFS HTTP API and converts between CID
// strings and the 256-bit digest form the contracts store.
package content

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/holiman/uint256"
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// ErrBadDigest indicates a CID whose multihash is not a plain sha2-256
// digest and therefore cannot be stored on chain as a uint256.
var ErrBadDigest = errors.New("content: cid digest is not sha2-256")

// Client is a minimal IPFS HTTP API client covering the add and cat
// endpoints the pipeline and tracker need.
type Client struct {
	apiURL string
	http   *http.Client
}

// NewClient builds a client for the IPFS API at apiURL, e.g.
// "http://127.0.0.1:5001".
func NewClient(apiURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		apiURL: strings.TrimRight(apiURL, "/"),
		http:   &http.Client{Timeout: timeout},
	}
}

type addResponse struct {
	Hash string `json:"Hash"`
}

// Publish adds a blob to IPFS and returns its CID.
func (c *Client) Publish(ctx context.Context, name string, data []byte) (cid.Cid, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		return cid.Undef, fmt.Errorf("content: build request: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return cid.Undef, fmt.Errorf("content: build request: %w", err)
	}
	if err := writer.Close(); err != nil {
		return cid.Undef, fmt.Errorf("content: build request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/api/v0/add?cid-version=0", &body)
	if err != nil {
		return cid.Undef, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return cid.Undef, fmt.Errorf("content: add: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return cid.Undef, fmt.Errorf("content: add: unexpected status %s", resp.Status)
	}

	var parsed addResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return cid.Undef, fmt.Errorf("content: add: decode response: %w", err)
	}
	decoded, err := cid.Decode(parsed.Hash)
	if err != nil {
		return cid.Undef, fmt.Errorf("content: add: bad cid %q: %w", parsed.Hash, err)
	}
	return decoded, nil
}

// PublishJSON marshals v and publishes it.
func (c *Client) PublishJSON(ctx context.Context, name string, v any) (cid.Cid, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return cid.Undef, fmt.Errorf("content: marshal: %w", err)
	}
	return c.Publish(ctx, name, raw)
}

// Fetch retrieves the blob behind a CID.
func (c *Client) Fetch(ctx context.Context, id cid.Cid) ([]byte, error) {
	endpoint := c.apiURL + "/api/v0/cat?arg=" + url.QueryEscape(id.String())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("content: cat %s: %w", id, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("content: cat %s: unexpected status %s", id, resp.Status)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 16<<20))
}

// FetchJSON retrieves and unmarshals the document behind a CID.
func (c *Client) FetchJSON(ctx context.Context, id cid.Cid, v any) error {
	raw, err := c.Fetch(ctx, id)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("content: decode %s: %w", id, err)
	}
	return nil
}

// CIDToUint256 extracts the sha2-256 digest from a CID so the contracts can
// hold it in a single storage slot. Only sha2-256 CIDs fit.
func CIDToUint256(id cid.Cid) (*uint256.Int, error) {
	decoded, err := multihash.Decode(id.Hash())
	if err != nil {
		return nil, fmt.Errorf("content: decode multihash: %w", err)
	}
	if decoded.Code != multihash.SHA2_256 || decoded.Length != 32 {
		return nil, ErrBadDigest
	}
	return new(uint256.Int).SetBytes(decoded.Digest), nil
}

// Uint256ToCID rebuilds the CIDv0 whose sha2-256 digest is held on chain.
func Uint256ToCID(digest *uint256.Int) (cid.Cid, error) {
	raw := digest.Bytes32()
	mh, err := multihash.Encode(raw[:], multihash.SHA2_256)
	if err != nil {
		return cid.Undef, fmt.Errorf("content: encode multihash: %w", err)
	}
	return cid.NewCidV0(mh), nil
}
