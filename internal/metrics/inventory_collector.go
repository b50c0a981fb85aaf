package metrics

import (
	"context"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"certinv/internal/certs"
	"certinv/internal/directory"
	"certinv/internal/store"
)

const (
	defaultExpiringWindowDays = 30
	collectTimeout            = 10 * time.Second
)

var (
	certificatesTotalDesc  = prometheus.NewDesc("certinv_certificates_total", "Stored certificates grouped by status", []string{"status"}, nil)
	expiredCountDesc       = prometheus.NewDesc("certinv_certificates_expired_count", "Number of stored certificates whose validTo is in the past", nil, nil)
	expiringCountDesc      = prometheus.NewDesc("certinv_certificates_expiring_count", "Number of stored certificates expiring within the warning window", nil, nil)
	unparsedValidToDesc    = prometheus.NewDesc("certinv_certificates_unparsed_valid_to_count", "Number of stored certificates whose validTo could not be parsed", nil, nil)
	teamsTotalDesc         = prometheus.NewDesc("certinv_teams_total", "Number of registered teams", nil, nil)
	lastScrapeSuccessDesc  = prometheus.NewDesc("certinv_inventory_last_scrape_success", "Whether the last scrape succeeded (1) or failed (0)", nil, nil)
	directoryConnectedDesc = prometheus.NewDesc("certinv_directory_connected", "External directory connection status (1=connected,0=disconnected)", nil, nil)
)

// validToLayouts are the date forms seen in stored validTo values.
var validToLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
}

type inventoryCollector struct {
	store          store.Store
	directory      directory.Client
	expiringWindow time.Duration
	now            func() time.Time
}

// NewInventoryCollector returns a Prometheus collector over the record store.
// A non-positive warningDays falls back to 30 days.
func NewInventoryCollector(st store.Store, dir directory.Client, warningDays int) prometheus.Collector {
	if warningDays <= 0 {
		warningDays = defaultExpiringWindowDays
	}
	return &inventoryCollector{
		store:          st,
		directory:      dir,
		expiringWindow: time.Duration(warningDays) * 24 * time.Hour,
		now:            time.Now,
	}
}

func (collector *inventoryCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- certificatesTotalDesc
	ch <- expiredCountDesc
	ch <- expiringCountDesc
	ch <- unparsedValidToDesc
	ch <- teamsTotalDesc
	ch <- lastScrapeSuccessDesc
	ch <- directoryConnectedDesc
}

func (collector *inventoryCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), collectTimeout)
	defer cancel()

	connected := 1.0
	if collector.directory == nil || collector.directory.CheckConnection(ctx) != nil {
		connected = 0
	}
	ch <- prometheus.MustNewConstMetric(directoryConnectedDesc, prometheus.GaugeValue, connected)

	rows, err := collector.store.ListCertificates(ctx)
	if err != nil {
		ch <- prometheus.MustNewConstMetric(lastScrapeSuccessDesc, prometheus.GaugeValue, 0)
		return
	}
	teams, err := collector.store.ListTeams(ctx)
	if err != nil {
		ch <- prometheus.MustNewConstMetric(lastScrapeSuccessDesc, prometheus.GaugeValue, 0)
		return
	}
	ch <- prometheus.MustNewConstMetric(lastScrapeSuccessDesc, prometheus.GaugeValue, 1)
	ch <- prometheus.MustNewConstMetric(teamsTotalDesc, prometheus.GaugeValue, float64(len(teams)))

	now := collector.now()
	byStatus := map[string]int{}
	expired, expiring, unparsed := 0, 0, 0
	for _, row := range rows {
		byStatus[statusLabel(row.CertificateStatus)]++
		if row.CertificateStatus != nil && *row.CertificateStatus == certs.StatusRevoked {
			continue
		}
		validTo, ok := ParseValidTo(certs.Deref(row.ValidTo))
		if !ok {
			unparsed++
			continue
		}
		switch {
		case validTo.Before(now):
			expired++
		case validTo.Sub(now) <= collector.expiringWindow:
			expiring++
		}
	}

	for status, count := range byStatus {
		ch <- prometheus.MustNewConstMetric(certificatesTotalDesc, prometheus.GaugeValue, float64(count), status)
	}
	ch <- prometheus.MustNewConstMetric(expiredCountDesc, prometheus.GaugeValue, float64(expired))
	ch <- prometheus.MustNewConstMetric(expiringCountDesc, prometheus.GaugeValue, float64(expiring))
	ch <- prometheus.MustNewConstMetric(unparsedValidToDesc, prometheus.GaugeValue, float64(unparsed))
}

func statusLabel(status *string) string {
	value := strings.ToLower(strings.TrimSpace(certs.Deref(status)))
	if value == "" {
		return "unknown"
	}
	return value
}

// ParseValidTo reads a stored validTo string. Values are free text, so an
// unrecognised form reports ok=false rather than an error.
func ParseValidTo(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range validToLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}
