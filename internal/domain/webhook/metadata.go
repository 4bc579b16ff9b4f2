package webhook

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// Format identifies which parser variant recognized the correlation string.
type Format string

const (
	FormatCurrent            Format = "current"
	FormatLegacyColon        Format = "legacy_colon"
	FormatLegacySubscription Format = "legacy_subscription"
	FormatLegacyUserID       Format = "legacy_user_id"
	FormatUnparseable        Format = "unparseable"

	// FormatStored marks metadata rebuilt from a stored subscription row.
	FormatStored Format = "subscription_record"
)

// Canonical metadata keys. PayPal caps custom_id at 127 characters, hence the short names.
const (
	KeyUserID        = "uid"
	KeyProductID     = "pid"
	KeyPolicyVersion = "pv"
	KeyNoRefundAck   = "nra"
	KeyAcceptedAt    = "ts"
)

var keyAliases = map[string]string{
	"user_id":        KeyUserID,
	"userId":         KeyUserID,
	"product_id":     KeyProductID,
	"plan_id":        KeyProductID,
	"productId":      KeyProductID,
	"planId":         KeyProductID,
	"policy_version": KeyPolicyVersion,
	"no_refund_ack":  KeyNoRefundAck,
	"accepted_at":    KeyAcceptedAt,
}

// Metadata is the parsed correlation record attached to a provider order or subscription.
type Metadata struct {
	Raw      string
	Fields   map[string]string
	IsLegacy bool
	Format   Format
}

func (m Metadata) get(key string) string {
	return m.Fields[key]
}

// UserID returns the correlated user id, salvaged from legacy shapes when possible.
func (m Metadata) UserID() string { return m.get(KeyUserID) }

// ProductID returns the credit package or plan id.
func (m Metadata) ProductID() string { return m.get(KeyProductID) }

type metadataParser struct {
	format Format
	parse  func(raw string) (map[string]string, bool)
}

// parsers are tried in order; the first structural match wins.
var parsers = []metadataParser{
	{format: FormatCurrent, parse: parseCurrent},
	{format: FormatLegacyColon, parse: parseLegacyColon},
	{format: FormatLegacySubscription, parse: parseLegacySubscription},
	{format: FormatLegacyUserID, parse: parseLegacyUserID},
}

// ParseMetadata never fails: an unrecognized string yields an unparseable, legacy record with no fields.
func ParseMetadata(raw string) Metadata {
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		for _, p := range parsers {
			fields, ok := p.parse(trimmed)
			if !ok {
				continue
			}
			return Metadata{
				Raw:      raw,
				Fields:   fields,
				IsLegacy: p.format != FormatCurrent,
				Format:   p.format,
			}
		}
	}
	return Metadata{Raw: raw, Fields: map[string]string{}, IsLegacy: true, Format: FormatUnparseable}
}

func storedMetadata(userID, plan string) Metadata {
	return Metadata{
		Fields: map[string]string{KeyUserID: userID, KeyProductID: plan},
		Format: FormatStored,
	}
}

func parseCurrent(raw string) (map[string]string, bool) {
	if !strings.HasPrefix(raw, "{") {
		return nil, false
	}

	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var obj map[string]interface{}
	if err := dec.Decode(&obj); err != nil || obj == nil {
		return nil, false
	}

	fields := make(map[string]string, len(obj))
	for k, v := range obj {
		key := strings.TrimSpace(k)
		if canonical, ok := keyAliases[key]; ok {
			key = canonical
		}
		value, ok := stringify(v)
		if !ok {
			continue
		}
		// canonical short keys win over aliases
		if _, exists := fields[key]; exists && key != k {
			continue
		}
		fields[key] = value
	}
	return fields, true
}

func stringify(v interface{}) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", false
	case string:
		return strings.TrimSpace(val), true
	case json.Number:
		return val.String(), true
	case bool:
		return strconv.FormatBool(val), true
	default:
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(val); err != nil {
			return "", false
		}
		return strings.TrimSpace(buf.String()), true
	}
}

var (
	legacyToken  = regexp.MustCompile(`^[A-Za-z0-9_.\-]{1,64}$`)
	legacyUserID = regexp.MustCompile(`^[A-Za-z0-9\-]{1,64}$`)
)

// Deprecated: "userId:productId" predates structured metadata; kept only while such orders may still be redelivered.
func parseLegacyColon(raw string) (map[string]string, bool) {
	parts := strings.Split(raw, ":")
	if len(parts) != 2 {
		return nil, false
	}
	userID, productID := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	if !legacyToken.MatchString(userID) || !legacyToken.MatchString(productID) {
		return nil, false
	}
	return map[string]string{KeyUserID: userID, KeyProductID: productID}, true
}

// Deprecated: "sub_{planId}_{userId}" subscription metadata. Plan ids contain underscores,
// so the user id is the segment after the last underscore.
func parseLegacySubscription(raw string) (map[string]string, bool) {
	rest, ok := strings.CutPrefix(raw, "sub_")
	if !ok {
		return nil, false
	}
	i := strings.LastIndex(rest, "_")
	if i <= 0 || i == len(rest)-1 {
		return nil, false
	}
	planID, userID := rest[:i], rest[i+1:]
	if !legacyToken.MatchString(planID) || !legacyUserID.MatchString(userID) {
		return nil, false
	}
	return map[string]string{KeyUserID: userID, KeyProductID: planID}, true
}

// Deprecated: a bare user id with no product or policy information.
func parseLegacyUserID(raw string) (map[string]string, bool) {
	if !legacyUserID.MatchString(raw) {
		return nil, false
	}
	return map[string]string{KeyUserID: raw}, true
}
