package consumer

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/drblury/tradegate/internal/gateway/gerrors"
	"github.com/drblury/tradegate/internal/gateway/jsoncodec"
	"github.com/drblury/tradegate/internal/gateway/model"
)

// decodeBody reverses the transport encoding named by the Content-Encoding
// message attribute. An unknown encoding is fatal for the message: the bytes
// can never be interpreted, so internal retries are pointless.
func decodeBody(payload []byte, contentEncoding string) ([]byte, error) {
	switch normaliseEncoding(contentEncoding) {
	case "":
		return payload, nil
	case "gzip+base64", "gzip,base64":
		compressed, err := base64.StdEncoding.DecodeString(string(payload))
		if err != nil {
			return nil, fmt.Errorf("base64 decode failed: %w", err)
		}
		reader, err := gzip.NewReader(bytes.NewReader(compressed))
		if err != nil {
			return nil, fmt.Errorf("gzip reader failed: %w", err)
		}
		defer reader.Close()
		decoded, err := io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("gzip decompression failed: %w", err)
		}
		return decoded, nil
	default:
		return nil, fmt.Errorf("%w: %q", gerrors.ErrUnsupportedEncoding, contentEncoding)
	}
}

func normaliseEncoding(contentEncoding string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(contentEncoding)), " ", "")
}

// parseEvent decodes the JSON envelope of a resource event.
func parseEvent(body []byte) (*model.ResourceEvent, error) {
	var event model.ResourceEvent
	if err := jsoncodec.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("resource event envelope decode failed: %w", err)
	}
	return &event, nil
}
