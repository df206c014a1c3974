package jobs

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"crm-automation/internal/fileformat"
	"crm-automation/internal/storage"
)

const (
	summaryPrompt = "deal_summary"
	offerPrompt   = "offer_extract"
)

// CloseDealsJob archives deals whose requests are all answered: supplier
// replies go to a Drive folder, a Gemini summary goes to a closing document,
// then the deal is marked closed.
type CloseDealsJob struct {
	deps *Deps
}

func NewCloseDealsJob(deps *Deps) *CloseDealsJob {
	return &CloseDealsJob{deps: deps}
}

func (j *CloseDealsJob) Name() string { return "closedeals" }

func (j *CloseDealsJob) Run(ctx context.Context) error {
	d := j.deps

	deals, err := d.Store.ActiveDeals(ctx)
	if err != nil {
		d.Notifier.JobFailed(j.Name(), err)
		return err
	}

	closed, failed := 0, 0
	for _, deal := range deals {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		ready, err := d.Store.DealReady(ctx, deal.ID)
		if err != nil {
			d.Logger.Error("Readiness check failed",
				zap.Int64("deal_id", deal.ID), zap.Error(err))
			failed++
			continue
		}
		if !ready {
			continue
		}

		if err := j.closeDeal(ctx, deal.ID, deal.Title); err != nil {
			d.Logger.Error("Failed to close deal",
				zap.Int64("deal_id", deal.ID), zap.Error(err))
			failed++
			continue
		}
		closed++
	}

	d.Notifier.JobDone(j.Name(),
		fmt.Sprintf("закрыто сделок: %d, ошибок: %d", closed, failed))
	if closed == 0 && failed > 0 {
		return fmt.Errorf("no deals closed, %d failed", failed)
	}
	return nil
}

func (j *CloseDealsJob) closeDeal(ctx context.Context, dealID int64, title string) error {
	d := j.deps

	files, err := d.Store.ReplyFiles(ctx, dealID)
	if err != nil {
		return err
	}
	texts, err := d.Store.ReplyTexts(ctx, dealID)
	if err != nil {
		return err
	}

	folderID, err := d.Google.CreateFolder(ctx, title,
		d.Config.Google.DriveFolderID, nil)
	if err != nil {
		return err
	}

	for _, f := range files {
		name := fmt.Sprintf("%s - КП №%d", f.CompanyName, f.FileID)
		if format := fileformat.Detect(f.Content); format.Extension != "" {
			name += "." + format.Extension
		}
		if _, _, err := d.Google.UploadAsDoc(ctx, f.Content, name, folderID); err != nil {
			return fmt.Errorf("upload reply file %d: %w", f.FileID, err)
		}
	}

	summary, err := j.summarize(ctx, title, texts)
	if err != nil {
		d.Logger.Warn("Summary generation failed, writing raw answers",
			zap.Int64("deal_id", dealID), zap.Error(err))
		summary = rawAnswers(texts)
	}
	if offers := j.extractOffers(ctx, texts); offers != "" {
		summary += "\n\nПредложения:\n" + offers
	}

	docName := "Итоги: " + title
	if _, err := d.Google.CreateDoc(ctx, docName, folderID, summary, nil); err != nil {
		return err
	}

	if err := d.Store.CloseDeal(ctx, dealID); err != nil {
		return err
	}

	d.Logger.Info("Deal closed",
		zap.Int64("deal_id", dealID),
		zap.Int("files", len(files)),
		zap.Int("texts", len(texts)))
	return nil
}

func (j *CloseDealsJob) summarize(ctx context.Context, title string, texts []storage.ReplyText) (string, error) {
	if len(texts) == 0 {
		return "Ответов с текстом не получено.", nil
	}

	prompt, err := j.deps.Gemini.Prompt(summaryPrompt)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString(prompt)
	sb.WriteString("\n\nСделка: ")
	sb.WriteString(title)
	sb.WriteString("\n\n")
	sb.WriteString(rawAnswers(texts))

	return j.deps.Gemini.Generate(ctx, sb.String())
}

// extractOffers pulls structured offer terms out of each answer. Extraction
// is best effort: answers the model cannot parse are skipped.
func (j *CloseDealsJob) extractOffers(ctx context.Context, texts []storage.ReplyText) string {
	d := j.deps

	prompt, err := d.Gemini.Prompt(offerPrompt)
	if err != nil {
		d.Logger.Warn("No offer extraction prompt", zap.Error(err))
		return ""
	}

	var sb strings.Builder
	for _, t := range texts {
		var offer map[string]any
		if err := d.Gemini.GenerateJSON(ctx, prompt+"\n\n"+t.Body, &offer); err != nil {
			d.Logger.Warn("Offer extraction failed",
				zap.String("company", t.CompanyName), zap.Error(err))
			continue
		}

		sb.WriteString(t.CompanyName)
		sb.WriteString(":")
		keys := make([]string, 0, len(offer))
		for k := range offer {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, " %s=%v;", k, offer[k])
		}
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String())
}

func rawAnswers(texts []storage.ReplyText) string {
	var sb strings.Builder
	for i, t := range texts {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(t.CompanyName)
		sb.WriteString(":\n")
		sb.WriteString(t.Body)
	}
	return sb.String()
}
