package azure

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"

	"github.com/Chapsvision-dev/captcha-token-acquirer/internal/retry"
	"github.com/Chapsvision-dev/captcha-token-acquirer/internal/util"
)

type AzureProvider struct {
	client    *azblob.Client
	container string
	auth      string
	ro        retry.Options

	mu      sync.Mutex
	checked bool
}

func (p *AzureProvider) Name() string { return "azure" }

// Put uploads data as a block blob with a sha256 metadata entry, then checks
// the stored size by listing.
func (p *AzureProvider) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if err := p.checkContainer(ctx); err != nil {
		return fmt.Errorf("ensure container: %w", err)
	}
	key = normalizeKey(key)
	if key == "" {
		return fmt.Errorf("azure: key is empty")
	}
	sum := util.SHA256Hex(data)

	upStart := time.Now()
	upAttempt := 0
	uploadOnce := func(ctx context.Context) error {
		upAttempt++
		log.Debug().Str("action", "azure_upload").Str("container", p.container).Str("key", key).
			Int("attempt", upAttempt).Msg("starting attempt")

		_, err := p.client.UploadBuffer(ctx, p.container, key, data, &azblob.UploadBufferOptions{
			Metadata:    map[string]*string{"sha256": to.Ptr(sum)},
			HTTPHeaders: &blob.HTTPHeaders{BlobContentType: to.Ptr(contentType)},
		})
		if err != nil {
			log.Debug().Err(err).Str("action", "azure_upload").Str("container", p.container).Str("key", key).
				Int("attempt", upAttempt).Msg("attempt failed")
			return err
		}
		return nil
	}
	if err := retry.Do(ctx, p.ro, isAzRetryable, uploadOnce); err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	log.Info().Str("action", "azure_upload").Str("container", p.container).Str("key", key).
		Str("auth", p.auth).Int("attempts", upAttempt).Int("size", len(data)).
		Dur("elapsed_ms", time.Since(upStart)).Msg("upload OK")

	listAttempt := 0
	validateOnce := func(ctx context.Context) error {
		listAttempt++
		found, remoteSize, err := p.sizeByList(ctx, key)
		if err != nil {
			log.Debug().Err(err).Str("action", "azure_list_validate").Str("key", key).
				Int("attempt", listAttempt).Msg("attempt failed")
			return err
		}
		if !found {
			return fmt.Errorf("uploaded blob not found at %q", key)
		}
		if remoteSize != int64(len(data)) {
			return fmt.Errorf("size mismatch: local=%d, remote=%d", len(data), remoteSize)
		}
		return nil
	}
	if err := retry.Do(ctx, p.ro, isAzRetryable, validateOnce); err != nil {
		return fmt.Errorf("validate (list): %w", err)
	}
	log.Debug().Str("action", "azure_list_validate").Str("key", key).
		Int("attempts", listAttempt).Msg("validation OK (size)")
	return nil
}

// checkContainer runs ensureContainer until it first succeeds.
func (p *AzureProvider) checkContainer(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.checked {
		return nil
	}
	if err := p.ensureContainer(ctx); err != nil {
		return err
	}
	p.checked = true
	return nil
}

func normalizeKey(k string) string {
	return strings.TrimPrefix(strings.TrimSpace(k), "/")
}
