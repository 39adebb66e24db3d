package overlay

import (
	"embed"
	"encoding/csv"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/mmcloughlin/geohash"
	"github.com/sirupsen/logrus"
)

//go:embed relays.csv
var relayCSV embed.FS

// DefaultRelayCount is the nearest-relay fan-out per geohash.
const DefaultRelayCount = 5

// geohashAlphabet is the base-32 character set of geohash strings.
const geohashAlphabet = "0123456789bcdefghjkmnpqrstuvwxyz"

// Relay is a directory entry with an approximate location.
type Relay struct {
	Host string
	Lat  float64
	Lon  float64
}

// RelayDirectory maps geohashes to nearby relays.
type RelayDirectory struct {
	relays []Relay
}

// LoadRelayDirectory parses the embedded relay CSV, deduplicating by host.
func LoadRelayDirectory() (*RelayDirectory, error) {
	f, err := relayCSV.Open("relays.csv")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded relay directory: %w", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse relay directory: %w", err)
	}

	seen := make(map[string]bool)
	var relays []Relay
	for i, rec := range records {
		if i == 0 && rec[0] == "host" {
			continue
		}
		if len(rec) != 3 {
			continue
		}
		host := strings.ToLower(strings.TrimSpace(rec[0]))
		if host == "" || seen[host] {
			continue
		}
		lat, latErr := strconv.ParseFloat(rec[1], 64)
		lon, lonErr := strconv.ParseFloat(rec[2], 64)
		if latErr != nil || lonErr != nil {
			continue
		}
		seen[host] = true
		relays = append(relays, Relay{Host: host, Lat: lat, Lon: lon})
	}

	logrus.WithFields(logrus.Fields{
		"function": "LoadRelayDirectory",
		"relays":   len(relays),
	}).Debug("Loaded relay directory")

	return &RelayDirectory{relays: relays}, nil
}

// ValidGeohash reports whether s is a normalized non-empty base-32
// geohash.
func ValidGeohash(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if !strings.ContainsRune(geohashAlphabet, c) {
			return false
		}
	}
	return true
}

// NormalizeGeohash lowercases and validates a geohash string.
func NormalizeGeohash(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if !ValidGeohash(s) {
		return "", fmt.Errorf("invalid geohash %q", s)
	}
	return s, nil
}

// RelaysForGeohash decodes the geohash center and returns the n nearest
// relay URLs in "wss://<host>" form.
func (d *RelayDirectory) RelaysForGeohash(gh string, n int) ([]string, error) {
	gh, err := NormalizeGeohash(gh)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		n = DefaultRelayCount
	}

	lat, lon := geohash.DecodeCenter(gh)

	sorted := make([]Relay, len(d.relays))
	copy(sorted, d.relays)
	sort.SliceStable(sorted, func(i, j int) bool {
		return haversineKm(lat, lon, sorted[i].Lat, sorted[i].Lon) <
			haversineKm(lat, lon, sorted[j].Lat, sorted[j].Lon)
	})

	if n > len(sorted) {
		n = len(sorted)
	}
	urls := make([]string, 0, n)
	for _, r := range sorted[:n] {
		urls = append(urls, "wss://"+r.Host)
	}
	return urls, nil
}

// Size returns the number of directory entries.
func (d *RelayDirectory) Size() int {
	return len(d.relays)
}

// haversineKm is the great-circle distance between two coordinates.
func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKm = 6371.0
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}
