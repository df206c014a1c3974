package jobs

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"crm-automation/internal/models"
	"crm-automation/internal/services/bitrix"
)

var bitrixTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05-07:00",
	"2006-01-02",
}

const exportedSheetMIME = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// BitrixSyncJob mirrors CRM companies and deals into the local database.
// Companies are diffed by their modification stamp, new deals are bulk-copied
// together with their request documents, vanished deals are removed.
type BitrixSyncJob struct {
	deps *Deps
}

func NewBitrixSyncJob(deps *Deps) *BitrixSyncJob {
	return &BitrixSyncJob{deps: deps}
}

func (j *BitrixSyncJob) Name() string { return "bitrixsync" }

func (j *BitrixSyncJob) Run(ctx context.Context) error {
	companies, err := j.syncCompanies(ctx)
	if err != nil {
		j.deps.Notifier.JobFailed(j.Name(), err)
		return err
	}

	deals, err := j.syncDeals(ctx)
	if err != nil {
		j.deps.Notifier.JobFailed(j.Name(), err)
		return err
	}

	j.deps.Notifier.JobDone(j.Name(),
		fmt.Sprintf("компаний: %d, сделок: %d", companies, deals))
	return nil
}

func (j *BitrixSyncJob) syncCompanies(ctx context.Context) (int, error) {
	d := j.deps

	stamps, err := d.Store.CompanyModifyStamps(ctx)
	if err != nil {
		return 0, err
	}

	fields, err := d.Entities.CompanyFields(ctx)
	if err != nil {
		return 0, err
	}

	selectFields := []string{"ID", "TITLE", "COMPANY_TYPE", "DATE_MODIFY",
		d.Config.Bitrix.RegionUF, d.Config.Bitrix.NmnUF}
	result, err := d.Entities.FindCompanies(ctx, bitrix.CompanyFilter{}, selectFields)
	if err != nil {
		return 0, err
	}

	types, err := d.Entities.CompanyTypes(ctx)
	if err != nil {
		return 0, err
	}
	typeNames := make(map[string]string, len(types))
	for name, id := range types {
		typeNames[id] = name
	}

	changed := 0
	for _, item := range result.Items {
		if ctx.Err() != nil {
			return changed, ctx.Err()
		}

		id, err := itemID(item)
		if err != nil {
			d.Logger.Warn("Skipping company without ID", zap.Error(err))
			continue
		}

		modified := itemTime(item, "DATE_MODIFY")
		known, exists := stamps[id]
		if exists && !modified.After(known) {
			continue
		}

		company := models.Company{
			ID:           id,
			Name:         itemString(item, "TITLE"),
			Types:        []string{companyTypeName(item, typeNames)},
			Nomenclature: resolveEnum(fields, d.Config.Bitrix.NmnUF, itemStrings(item, d.Config.Bitrix.NmnUF)),
			Regions:      resolveEnum(fields, d.Config.Bitrix.RegionUF, itemStrings(item, d.Config.Bitrix.RegionUF)),
			DateModify:   modified,
		}
		company.ContactName, company.ContactEmail = j.primaryContact(ctx, item)

		if exists {
			err = d.Store.UpdateCompany(ctx, company)
		} else {
			err = d.Store.UpsertCompany(ctx, company)
		}
		if err != nil {
			return changed, err
		}
		changed++
	}

	maxID, err := d.Store.CompanyMaxID(ctx)
	if err != nil {
		return changed, err
	}
	d.Logger.Info("Companies synced",
		zap.Int("changed", changed), zap.Int64("max_company_id", maxID))
	return changed, nil
}

func (j *BitrixSyncJob) primaryContact(ctx context.Context, item map[string]any) (string, string) {
	d := j.deps

	idStr := itemString(item, "ID")
	contacts, err := d.Entities.CompanyContacts(ctx, idStr)
	if err != nil {
		d.Logger.Warn("Failed to load company contacts",
			zap.String("company_id", idStr), zap.Error(err))
		return "", ""
	}

	// Prefer a contact card that actually carries an email address.
	first := contacts.Filter("EMAIL__contains", "@").First()
	if first == nil {
		first = contacts.First()
	}
	if first == nil {
		return "", ""
	}

	name := itemString(first, "NAME")
	if second := itemString(first, "SECOND_NAME"); second != "" {
		name += " " + second
	}

	var email string
	if list, ok := first["EMAIL"].([]any); ok && len(list) > 0 {
		if entry, ok := list[0].(map[string]any); ok {
			email = itemString(entry, "VALUE")
		}
	}
	return name, email
}

func (j *BitrixSyncJob) syncDeals(ctx context.Context) (int, error) {
	d := j.deps

	knownIDs, err := d.Store.DealIDs(ctx)
	if err != nil {
		return 0, err
	}
	known := make(map[int64]bool, len(knownIDs))
	for _, id := range knownIDs {
		known[id] = true
	}

	selectFields := []string{"ID", "TITLE", "TYPE_ID", "DATE_CREATE", "CLOSEDATE",
		"ASSIGNED_BY_ID", "CLOSED", d.Config.Bitrix.RegionUF, d.Config.Bitrix.NmnUF,
		d.Config.Bitrix.DocUF}
	result, err := d.Entities.FindDeals(ctx, bitrix.DealFilter{}, selectFields)
	if err != nil {
		return 0, err
	}

	portal := make(map[int64]bool, len(result.Items))
	for _, raw := range result.IDs() {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		portal[id] = true
	}

	var fresh []models.Deal
	for _, item := range result.Items {
		id, err := itemID(item)
		if err != nil {
			d.Logger.Warn("Skipping deal without ID", zap.Error(err))
			continue
		}
		if known[id] {
			continue
		}

		deal := models.Deal{
			ID:         id,
			Title:      itemString(item, "TITLE"),
			TypeDeal:   itemStrings(item, "TYPE_ID"),
			TypeNmn:    itemStrings(item, d.Config.Bitrix.NmnUF),
			WhoCreated: itemString(item, "ASSIGNED_BY_ID"),
			CreatedAt:  itemTime(item, "DATE_CREATE"),
			Deadline:   itemTime(item, "CLOSEDATE"),
			Regions:    itemStrings(item, d.Config.Bitrix.RegionUF),
			IsClosed:   itemString(item, "CLOSED") == "Y",
		}

		if ref := documentRef(item, d.Config.Bitrix.DocUF); ref != "" {
			docID, err := j.fetchDocument(ctx, ref, deal.Title)
			if err != nil {
				d.Logger.Error("Failed to fetch deal document",
					zap.Int64("deal_id", id), zap.String("ref", ref), zap.Error(err))
			} else {
				deal.DocID = docID
			}
		}

		fresh = append(fresh, deal)
	}

	// Deals removed in the CRM are dropped locally so booking never picks
	// them up. An empty portal listing is left alone.
	for _, id := range knownIDs {
		if len(portal) == 0 || portal[id] {
			continue
		}
		if err := d.Store.DeleteDeal(ctx, id); err != nil {
			return 0, err
		}
		d.Logger.Info("Removed vanished deal", zap.Int64("deal_id", id))
	}

	if len(fresh) == 0 {
		d.Logger.Info("No new deals to copy")
		return 0, nil
	}

	if err := d.Store.BulkInsertDeals(ctx, fresh); err != nil {
		return 0, err
	}
	d.Logger.Info("Deals copied", zap.Int("count", len(fresh)))
	return len(fresh), nil
}

// fetchDocument loads the request document of a deal and stores it in the
// files table. Portal paths need the authorized session download, everything
// else is treated as a Drive file ID exported as a spreadsheet.
func (j *BitrixSyncJob) fetchDocument(ctx context.Context, ref, dealTitle string) (int64, error) {
	d := j.deps

	var content []byte
	var contentType string
	if strings.HasPrefix(ref, "/") {
		data, kind, err := d.Bitrix.Download(ctx, ref)
		if err != nil {
			return 0, err
		}
		content, contentType = data, kind
	} else {
		data, err := d.Google.ExportFile(ctx, ref, exportedSheetMIME)
		if err != nil {
			return 0, err
		}
		content, contentType = data, exportedSheetMIME
	}

	sum := blake2b.Sum512(content)
	hash := hex.EncodeToString(sum[:])

	fileID, err := d.Store.FileByHash(ctx, hash)
	if err != nil {
		return 0, err
	}
	if fileID != 0 {
		return fileID, nil
	}

	return d.Store.InsertFile(ctx, models.Attachment{
		Filename:    dealTitle,
		ContentType: contentType,
		Size:        len(content),
		Hash:        hash,
		Content:     content,
	})
}

// documentRef extracts the download reference of a file user field: either
// the downloadUrl of a portal file value or a plain string.
func documentRef(item map[string]any, key string) string {
	if key == "" {
		return ""
	}
	switch v := item[key].(type) {
	case map[string]any:
		return itemString(v, "downloadUrl")
	case string:
		return v
	default:
		return ""
	}
}

// resolveEnum maps enumeration value IDs to display names, keeping the raw
// values when the field is not an enumeration or an ID does not parse.
func resolveEnum(fields map[string]bitrix.FieldInfo, field string, raw []string) []string {
	if len(raw) == 0 {
		return nil
	}
	if _, ok := fields[field]; !ok {
		return raw
	}

	ids := make([]int, 0, len(raw))
	for _, v := range raw {
		id, err := strconv.Atoi(v)
		if err != nil {
			return raw
		}
		ids = append(ids, id)
	}

	resolved, err := bitrix.ParseFields(fields, map[string][]int{field: ids})
	if err != nil || len(resolved[field]) == 0 {
		return raw
	}
	return resolved[field]
}

func itemID(item map[string]any) (int64, error) {
	raw := itemString(item, "ID")
	if raw == "" {
		return 0, fmt.Errorf("record has no ID")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse ID %q: %w", raw, err)
	}
	return id, nil
}

func itemString(item map[string]any, key string) string {
	if raw, ok := item[key]; ok && raw != nil {
		return fmt.Sprint(raw)
	}
	return ""
}

// itemStrings reads a field that the portal returns either as a scalar or as
// a multi-value list.
func itemStrings(item map[string]any, key string) []string {
	raw, ok := item[key]
	if !ok || raw == nil || key == "" {
		return nil
	}

	switch v := raw.(type) {
	case []any:
		values := make([]string, 0, len(v))
		for _, elem := range v {
			if s := fmt.Sprint(elem); s != "" {
				values = append(values, s)
			}
		}
		return values
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	default:
		return []string{fmt.Sprint(v)}
	}
}

func itemTime(item map[string]any, key string) time.Time {
	raw := itemString(item, key)
	if raw == "" {
		return time.Time{}
	}
	for _, layout := range bitrixTimeLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts
		}
	}
	return time.Time{}
}

func companyTypeName(item map[string]any, typeNames map[string]string) string {
	id := itemString(item, "COMPANY_TYPE")
	if name, ok := typeNames[id]; ok {
		return name
	}
	return id
}
