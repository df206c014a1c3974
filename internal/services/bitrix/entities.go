package bitrix

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// Entity query helpers over the generic client, used by the sync jobs to
// pull companies, deals and contacts without repeating filter plumbing.

// ResultSet is a list of raw entity records with in-memory helpers.
type ResultSet struct {
	Items []map[string]any
}

// First returns the first record or nil.
func (r *ResultSet) First() map[string]any {
	if len(r.Items) == 0 {
		return nil
	}
	return r.Items[0]
}

// IDs collects the ID field of every record.
func (r *ResultSet) IDs() []string {
	var ids []string
	for _, item := range r.Items {
		if id, ok := item["ID"].(string); ok && id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// Filter keeps records whose field equals value, or contains it when the
// key carries a "__contains" suffix.
func (r *ResultSet) Filter(key string, value string) *ResultSet {
	contains := strings.HasSuffix(key, "__contains")
	field := strings.TrimSuffix(key, "__contains")

	var kept []map[string]any
	for _, item := range r.Items {
		raw, ok := item[field]
		if !ok {
			continue
		}
		str := fmt.Sprint(raw)
		if contains {
			if strings.Contains(strings.ToLower(str), strings.ToLower(value)) {
				kept = append(kept, item)
			}
		} else if str == value {
			kept = append(kept, item)
		}
	}
	return &ResultSet{Items: kept}
}

// Entities bundles typed finders with a cached status-list lookup.
type Entities struct {
	client *Client

	mu        sync.Mutex
	statusMap map[string]map[string]string
}

func NewEntities(client *Client) *Entities {
	return &Entities{
		client:    client,
		statusMap: make(map[string]map[string]string),
	}
}

// statuses resolves the {name: status id} map of a status entity, caching
// per entity ID for the lifetime of the job.
func (e *Entities) statuses(ctx context.Context, entityID string) (map[string]string, error) {
	e.mu.Lock()
	cached, ok := e.statusMap[entityID]
	e.mu.Unlock()
	if ok {
		return cached, nil
	}

	raw, err := e.client.Query(ctx, "get_status_list", map[string]any{
		"filter": map[string]any{"ENTITY_ID": entityID},
	})
	if err != nil {
		return nil, err
	}

	var statuses []struct {
		Name     string `json:"NAME"`
		StatusID string `json:"STATUS_ID"`
	}
	if raw != nil {
		if err := json.Unmarshal(raw, &statuses); err != nil {
			return nil, fmt.Errorf("decode status list %s: %w", entityID, err)
		}
	}

	m := make(map[string]string, len(statuses))
	for _, s := range statuses {
		m[s.Name] = s.StatusID
	}

	e.mu.Lock()
	e.statusMap[entityID] = m
	e.mu.Unlock()
	return m, nil
}

// CompanyTypes returns the {name: id} map of configured company types.
func (e *Entities) CompanyTypes(ctx context.Context) (map[string]string, error) {
	return e.statuses(ctx, "COMPANY_TYPE")
}

// DealStages returns the {name: id} map of deal pipeline stages.
func (e *Entities) DealStages(ctx context.Context) (map[string]string, error) {
	return e.statuses(ctx, "DEAL_STAGE")
}

func (e *Entities) findAll(ctx context.Context, query string, filter map[string]any, selectFields []string) (*ResultSet, error) {
	params := map[string]any{}
	if len(filter) > 0 {
		params["filter"] = filter
	}
	if len(selectFields) > 0 {
		params["select"] = selectFields
	}

	pages, err := e.client.AllPages(ctx, query, params)
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, len(pages))
	for _, raw := range pages {
		var item map[string]any
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, fmt.Errorf("decode %s item: %w", query, err)
		}
		items = append(items, item)
	}
	return &ResultSet{Items: items}, nil
}

// CompanyFilter narrows a company listing. The type name is translated to
// its status ID through the portal directory.
type CompanyFilter struct {
	TypeName string
	Region   string
	Title    string
}

// FindCompanies lists companies matching the filter across all pages.
func (e *Entities) FindCompanies(ctx context.Context, f CompanyFilter, selectFields []string) (*ResultSet, error) {
	filter := map[string]any{}

	if f.TypeName != "" {
		types, err := e.CompanyTypes(ctx)
		if err != nil {
			return nil, err
		}
		typeID, ok := types[f.TypeName]
		if !ok {
			typeID = f.TypeName
		}
		filter["COMPANY_TYPE"] = typeID
	}
	if f.Region != "" {
		filter[e.client.config.RegionUF] = f.Region
	}
	if f.Title != "" {
		filter["%TITLE"] = f.Title
	}

	return e.findAll(ctx, "get_all_companies", filter, selectFields)
}

// DealFilter narrows a deal listing.
type DealFilter struct {
	StageName    string
	CompanyID    string
	CreatedAfter string
}

// FindDeals lists deals matching the filter across all pages.
func (e *Entities) FindDeals(ctx context.Context, f DealFilter, selectFields []string) (*ResultSet, error) {
	filter := map[string]any{}

	if f.StageName != "" {
		stages, err := e.DealStages(ctx)
		if err != nil {
			return nil, err
		}
		stageID, ok := stages[f.StageName]
		if !ok {
			stageID = f.StageName
		}
		filter["STAGE_ID"] = stageID
	}
	if f.CompanyID != "" {
		filter["COMPANY_ID"] = f.CompanyID
	}
	if f.CreatedAfter != "" {
		filter[">=DATE_CREATE"] = f.CreatedAfter
	}

	return e.findAll(ctx, "deal_list", filter, selectFields)
}

// CompanyContacts loads the full contact cards bound to a company.
func (e *Entities) CompanyContacts(ctx context.Context, companyID string) (*ResultSet, error) {
	raw, err := e.client.Query(ctx, "get_contacts", map[string]any{"id": companyID})
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return &ResultSet{}, nil
	}

	var links []struct {
		ContactID string `json:"CONTACT_ID"`
	}
	if err := json.Unmarshal(raw, &links); err != nil {
		return nil, fmt.Errorf("decode contact links: %w", err)
	}

	var contacts []map[string]any
	for _, link := range links {
		if link.ContactID == "" {
			continue
		}
		info, err := e.client.Query(ctx, "get_contact_info", map[string]any{"id": link.ContactID})
		if err != nil {
			return nil, err
		}
		if info == nil {
			continue
		}
		var contact map[string]any
		if err := json.Unmarshal(info, &contact); err != nil {
			return nil, fmt.Errorf("decode contact %s: %w", link.ContactID, err)
		}
		contacts = append(contacts, contact)
	}
	return &ResultSet{Items: contacts}, nil
}

// CompanyFields loads the user-field descriptions of companies.
func (e *Entities) CompanyFields(ctx context.Context) (map[string]FieldInfo, error) {
	raw, err := e.client.Query(ctx, "get_company_fields", nil)
	if err != nil {
		return nil, err
	}
	var fields map[string]FieldInfo
	if raw != nil {
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("decode company fields: %w", err)
		}
	}
	return fields, nil
}
