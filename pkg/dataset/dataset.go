// Package dataset consolidates the three flat input sources (entitlement
// catalog, cluster table, user table) into per-cluster snapshots.
package dataset

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"rolemint/internal/utils"
	"rolemint/pkg/rbac"
)

// Canonical file names inside the input directory.
const (
	CatalogFile  = "entitlement_catalog.json"
	ClustersFile = "clusters.csv"
	UsersFile    = "users.csv"
)

// ValidationError reports structurally required columns missing from a
// source file. This is fatal to the load, unlike unknown entitlement ids
// which are skipped.
type ValidationError struct {
	File    string
	Missing []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: missing required columns: %s", e.File, strings.Join(e.Missing, ", "))
}

type catalogEntry struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type clusterRow struct {
	ID           string
	Entitlements string // comma-separated id list, parsed lazily per snapshot
	UserCount    int
}

type userRow struct {
	UserID     string
	ClusterID  string
	JobTitle   string
	Department string
}

// Consolidator loads the three sources fully into memory and joins them on
// demand. A reload re-reads everything from scratch; there is no incremental
// invalidation.
type Consolidator struct {
	inputDir string

	mu       sync.RWMutex
	loaded   bool
	catalog  map[string]catalogEntry
	clusters []clusterRow
	byID     map[string]int
	users    []userRow
}

func New(inputDir string) *Consolidator {
	return &Consolidator{inputDir: inputDir}
}

// Load re-reads all three sources. Missing files are skipped with a warning
// and downstream lookups just come back empty; malformed files fail the
// whole load.
func (c *Consolidator) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadLocked()
}

func (c *Consolidator) loadLocked() error {
	catalog := make(map[string]catalogEntry)
	catalogPath := filepath.Join(c.inputDir, CatalogFile)
	if data, err := os.ReadFile(catalogPath); err == nil {
		if err := json.Unmarshal(data, &catalog); err != nil {
			return fmt.Errorf("parsing %s: %w", CatalogFile, err)
		}
		utils.Log.Infof("Loaded %d entitlements from %s", len(catalog), CatalogFile)
	} else {
		utils.Log.Warnf("Entitlement catalog not found at %s, skipping", catalogPath)
	}

	clusters, byID, err := c.loadClusters()
	if err != nil {
		return err
	}

	users, err := c.loadUsers()
	if err != nil {
		return err
	}

	c.catalog = catalog
	c.clusters = clusters
	c.byID = byID
	c.users = users
	c.loaded = true
	return nil
}

func (c *Consolidator) loadClusters() ([]clusterRow, map[string]int, error) {
	path := filepath.Join(c.inputDir, ClustersFile)
	records, err := readCSV(path)
	if err != nil {
		return nil, nil, err
	}
	if records == nil {
		utils.Log.Warnf("Cluster table not found at %s, skipping", path)
		return nil, map[string]int{}, nil
	}

	cols, err := columnIndex(ClustersFile, records[0], []string{"cluster_id", "entitlements", "user_count"})
	if err != nil {
		return nil, nil, err
	}

	var rows []clusterRow
	byID := make(map[string]int)
	for _, rec := range records[1:] {
		row := clusterRow{
			ID:           strings.TrimSpace(rec[cols["cluster_id"]]),
			Entitlements: rec[cols["entitlements"]],
		}
		if row.ID == "" {
			continue
		}
		if n, err := strconv.Atoi(strings.TrimSpace(rec[cols["user_count"]])); err == nil {
			row.UserCount = n
		}
		byID[row.ID] = len(rows)
		rows = append(rows, row)
	}
	utils.Log.Infof("Loaded %d clusters from %s", len(rows), ClustersFile)
	return rows, byID, nil
}

func (c *Consolidator) loadUsers() ([]userRow, error) {
	path := filepath.Join(c.inputDir, UsersFile)
	records, err := readCSV(path)
	if err != nil {
		return nil, err
	}
	if records == nil {
		utils.Log.Warnf("User table not found at %s, skipping", path)
		return nil, nil
	}

	cols, err := columnIndex(UsersFile, records[0], []string{"user_id", "cluster_id", "job_title", "department"})
	if err != nil {
		return nil, err
	}

	var rows []userRow
	for _, rec := range records[1:] {
		rows = append(rows, userRow{
			UserID:     strings.TrimSpace(rec[cols["user_id"]]),
			ClusterID:  strings.TrimSpace(rec[cols["cluster_id"]]),
			JobTitle:   strings.TrimSpace(rec[cols["job_title"]]),
			Department: strings.TrimSpace(rec[cols["department"]]),
		})
	}
	utils.Log.Infof("Loaded %d users from %s", len(rows), UsersFile)
	return rows, nil
}

// readCSV returns nil records (not an error) when the file does not exist.
func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}
	if len(records) == 0 {
		return nil, &ValidationError{File: filepath.Base(path), Missing: []string{"header row"}}
	}
	return records, nil
}

// columnIndex resolves required header names case-insensitively.
func columnIndex(file string, header []string, required []string) (map[string]int, error) {
	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[strings.ToLower(strings.TrimSpace(name))] = i
	}

	cols := make(map[string]int, len(required))
	var missing []string
	for _, name := range required {
		i, ok := idx[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		cols[name] = i
	}
	if len(missing) > 0 {
		return nil, &ValidationError{File: file, Missing: missing}
	}
	return cols, nil
}

// Loaded reports whether a load has completed.
func (c *Consolidator) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}

// EnsureLoaded performs the initial load exactly once.
func (c *Consolidator) EnsureLoaded() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded {
		return nil
	}
	return c.loadLocked()
}

// ClusterIDs returns every known cluster id in cluster-table row order.
func (c *Consolidator) ClusterIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]string, 0, len(c.clusters))
	for _, row := range c.clusters {
		ids = append(ids, row.ID)
	}
	return ids
}

// Counts reports the sizes of the loaded tables.
func (c *Consolidator) Counts() (entitlements, clusters, users int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.catalog), len(c.clusters), len(c.users)
}

// Snapshot joins the three tables into a consolidated view of one cluster.
// Entitlement ids absent from the catalog are dropped silently: catalogs may
// lag behind cluster exports, so this is a lenient join, not an error.
// Readers racing a concurrent Load see either the old tables or the new
// ones, never a mix within one call.
func (c *Consolidator) Snapshot(clusterID string) (rbac.ClusterSnapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	i, ok := c.byID[clusterID]
	if !ok {
		return rbac.ClusterSnapshot{}, fmt.Errorf("%w: %s", rbac.ErrClusterNotFound, clusterID)
	}
	row := c.clusters[i]

	var entitlements []rbac.Entitlement
	seen := make(map[string]bool)
	for _, raw := range strings.Split(row.Entitlements, ",") {
		id := strings.TrimSpace(raw)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		entry, ok := c.catalog[id]
		if !ok {
			utils.Log.Debugf("Cluster %s references unknown entitlement %s, skipping", clusterID, id)
			continue
		}
		entitlements = append(entitlements, rbac.Entitlement{
			ID:          id,
			Name:        entry.Name,
			Description: entry.Description,
		})
	}

	return rbac.ClusterSnapshot{
		ClusterID:    clusterID,
		Entitlements: entitlements,
		UserSummary:  c.summarizeUsers(clusterID),
	}, nil
}

func (c *Consolidator) summarizeUsers(clusterID string) rbac.UserSummary {
	titleCounts := make(map[string]int)
	deptCounts := make(map[string]int)
	var titleOrder, deptOrder []string
	total := 0

	for _, u := range c.users {
		if u.ClusterID != clusterID {
			continue
		}
		total++
		if u.JobTitle != "" {
			if titleCounts[u.JobTitle] == 0 {
				titleOrder = append(titleOrder, u.JobTitle)
			}
			titleCounts[u.JobTitle]++
		}
		if u.Department != "" {
			if deptCounts[u.Department] == 0 {
				deptOrder = append(deptOrder, u.Department)
			}
			deptCounts[u.Department]++
		}
	}

	return rbac.UserSummary{
		TotalUsers:             total,
		TopJobTitles:           topKeys(titleCounts, titleOrder, 5),
		TopDepartments:         topKeys(deptCounts, deptOrder, 3),
		JobTitleDistribution:   titleCounts,
		DepartmentDistribution: deptCounts,
	}
}

// topKeys ranks keys by descending count; ties keep first-appearance order.
func topKeys(counts map[string]int, order []string, limit int) []string {
	ranked := make([]string, len(order))
	copy(ranked, order)
	sort.SliceStable(ranked, func(i, j int) bool {
		return counts[ranked[i]] > counts[ranked[j]]
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}
