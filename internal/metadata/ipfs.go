package metadata

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/blues/cfe/internal/escrow"
	"github.com/blues/cfe/internal/logger"
)

const maxMetadataSize = 1 << 20

// IPFSStore 通过 IPFS HTTP API 上传，通过多个网关按顺序回退读取
type IPFSStore struct {
	apiURL   string
	gateways []string
	timeout  time.Duration
	client   *http.Client
}

// NewIPFSStore 创建 IPFS 存储，timeout 为单个网关的超时
func NewIPFSStore(apiURL string, gateways []string, timeout time.Duration) *IPFSStore {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &IPFSStore{
		apiURL:   strings.TrimRight(apiURL, "/"),
		gateways: gateways,
		timeout:  timeout,
		client:   &http.Client{},
	}
}

type addResponse struct {
	Name string `json:"Name"`
	Hash string `json:"Hash"`
	Size string `json:"Size"`
}

// Put 调用 /api/v0/add 上传并固定
func (s *IPFSStore) Put(ctx context.Context, data []byte) (string, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", "metadata.json")
	if err != nil {
		return "", fmt.Errorf("failed to build upload form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("failed to build upload form: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to build upload form: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL+"/api/v0/add?pin=true", &body)
	if err != nil {
		return "", fmt.Errorf("failed to build upload request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := s.client.Do(req)
	if err != nil {
		return "", escrow.Unavailable(err, "ipfs upload failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", escrow.Unavailable(fmt.Errorf("status %d: %s", resp.StatusCode, msg), "ipfs upload rejected")
	}

	var out addResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", escrow.Unavailable(err, "ipfs upload returned an unreadable response")
	}
	if out.Hash == "" {
		return "", escrow.Unavailable(errors.New("empty hash"), "ipfs upload returned no cid")
	}

	logger.Debug("metadata pinned as %s (%s bytes)", out.Hash, out.Size)
	return out.Hash, nil
}

// Get 依次尝试每个网关，首个成功的响应即返回
func (s *IPFSStore) Get(ctx context.Context, cid string) ([]byte, error) {
	if cid == "" {
		return nil, escrow.Unavailable(errors.New("empty cid"), "no metadata reference")
	}

	var errs []error
	for _, gateway := range s.gateways {
		data, err := s.fetch(ctx, gateway, cid)
		if err == nil {
			return data, nil
		}
		logger.Debug("gateway %s failed for %s: %v", gateway, cid, err)
		errs = append(errs, err)

		if ctx.Err() != nil {
			break
		}
	}
	return nil, escrow.Unavailable(errors.Join(errs...), "metadata %s unavailable on %d gateways", cid, len(s.gateways))
}

func (s *IPFSStore) fetch(ctx context.Context, gateway, cid string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	url := strings.TrimRight(gateway, "/") + "/ipfs/" + cid
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: status %d", gateway, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxMetadataSize))
}
