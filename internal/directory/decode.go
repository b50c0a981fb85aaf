package directory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"certinv/internal/certs"
	cierrors "certinv/internal/errors"
)

// DecodeRecords parses an upstream body holding either one record or an
// array of records. Every record must carry a certificateIdentifier.
func DecodeRecords(body []byte) ([]certs.ExternalRecord, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty response body", cierrors.ErrUpstream)
	}

	var records []certs.ExternalRecord
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, fmt.Errorf("%w: decode records: %v", cierrors.ErrUpstream, err)
		}
	case '{':
		var record certs.ExternalRecord
		if err := json.Unmarshal(trimmed, &record); err != nil {
			return nil, fmt.Errorf("%w: decode record: %v", cierrors.ErrUpstream, err)
		}
		records = []certs.ExternalRecord{record}
	default:
		return nil, fmt.Errorf("%w: unexpected response body", cierrors.ErrUpstream)
	}

	for index, record := range records {
		if strings.TrimSpace(record.CertificateIdentifier) == "" {
			return nil, fmt.Errorf("%w: record %d has no certificateIdentifier", cierrors.ErrUpstream, index)
		}
	}
	if records == nil {
		records = []certs.ExternalRecord{}
	}
	return records, nil
}
