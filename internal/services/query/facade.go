package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/sitedex/internal/common"
	"github.com/ternarybob/sitedex/internal/interfaces"
	"github.com/ternarybob/sitedex/internal/models"
)

// Facade answers grounded questions against an indexed website. Every
// operation resolves the website by base domain, so callers can pass a full
// URL, a www. alias or a bare domain interchangeably.
type Facade struct {
	storage  interfaces.StorageManager
	search   interfaces.SearchStore
	logger   arbor.ILogger
	validate *validator.Validate
}

// NewFacade wires the query facade.
func NewFacade(storage interfaces.StorageManager, search interfaces.SearchStore, logger arbor.ILogger) *Facade {
	return &Facade{
		storage:  storage,
		search:   search,
		logger:   logger,
		validate: validator.New(),
	}
}

// Answer is a cleaned grounded answer with its citations.
type Answer struct {
	Answer     string     `json:"answer"`
	Citations  []Citation `json:"citations,omitempty"`
	WebsiteID  string     `json:"website_id"`
	BaseDomain string     `json:"base_domain"`
}

type askInput struct {
	Question string `validate:"required,max=5000"`
}

// Ask answers a free-form question grounded in the website's indexed pages.
func (f *Facade) Ask(ctx context.Context, question, websiteRef string) (*Answer, error) {
	return f.query(ctx, question, websiteRef, nil)
}

// CheckExistingContent reports whether the website already covers a topic,
// citing the covering pages.
func (f *Facade) CheckExistingContent(ctx context.Context, topic, websiteRef string) (*Answer, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	prompt := fmt.Sprintf(
		"Does this website already have content covering %q? "+
			"Answer yes or no, then list the pages that cover it, citing each page's source URL. "+
			"If coverage is partial, say what aspects are missing.", topic)
	return f.query(ctx, prompt, websiteRef, nil)
}

// SummarizeTopic summarizes what the website says about a topic.
func (f *Facade) SummarizeTopic(ctx context.Context, topic, websiteRef string) (*Answer, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	prompt := fmt.Sprintf(
		"Summarize everything this website says about %q. "+
			"Organize the summary by page and cite each page's source URL.", topic)
	return f.query(ctx, prompt, websiteRef, nil)
}

// FindMentions locates pages mentioning any of the given keywords.
func (f *Facade) FindMentions(ctx context.Context, keywords []string, websiteRef string) (*Answer, error) {
	var cleaned []string
	for _, kw := range keywords {
		if kw = strings.TrimSpace(kw); kw != "" {
			cleaned = append(cleaned, kw)
		}
	}
	if len(cleaned) == 0 {
		return nil, fmt.Errorf("at least one keyword is required")
	}
	prompt := fmt.Sprintf(
		"Find every page on this website that mentions any of the following: %s. "+
			"For each mention, quote the relevant passage and cite the page's source URL.",
		strings.Join(cleaned, ", "))
	return f.query(ctx, prompt, websiteRef, nil)
}

// SearchWithFilter answers a question grounded only in pages whose path
// starts with the given prefix. Cleaning and citation extraction are the same
// as Ask.
func (f *Facade) SearchWithFilter(ctx context.Context, question, websiteRef, pathPrefix string) (*Answer, error) {
	var opts *interfaces.QueryOptions
	if pathPrefix != "" {
		opts = &interfaces.QueryOptions{PathPrefix: pathPrefix}
	}
	return f.query(ctx, question, websiteRef, opts)
}

func (f *Facade) query(ctx context.Context, question, websiteRef string, opts *interfaces.QueryOptions) (*Answer, error) {
	question = strings.TrimSpace(question)
	if err := f.validate.Struct(askInput{Question: question}); err != nil {
		return nil, fmt.Errorf("invalid question: %w", err)
	}

	website, err := f.resolveWebsite(ctx, websiteRef)
	if err != nil {
		return nil, err
	}

	f.logger.Debug().
		Str("base_domain", website.BaseDomain).
		Str("store_id", website.SearchStoreID).
		Msg("Querying search store")

	result, err := f.search.Query(ctx, website.SearchStoreID, question, opts)
	if err != nil {
		return nil, fmt.Errorf("query against %s failed: %w", website.BaseDomain, err)
	}

	return &Answer{
		Answer:     CleanAnswer(result.Answer),
		Citations:  ExtractCitations(result.Grounding),
		WebsiteID:  website.ID,
		BaseDomain: website.BaseDomain,
	}, nil
}

// resolveWebsite maps a website reference (URL, www. alias or bare domain)
// onto a registered, indexed website.
func (f *Facade) resolveWebsite(ctx context.Context, websiteRef string) (*models.Website, error) {
	host, err := common.ExtractDomain(common.EnsureScheme(websiteRef))
	if err != nil {
		return nil, fmt.Errorf("invalid website reference %q: %w", websiteRef, err)
	}
	baseDomain := common.ExtractBaseDomain(host)

	website, err := f.storage.WebsiteStorage().GetWebsiteByBaseDomain(ctx, baseDomain)
	if err != nil {
		return nil, fmt.Errorf("%s is not indexed; run ingestion for it first", baseDomain)
	}
	if website.SearchStoreID == "" {
		return nil, fmt.Errorf("%s is ingested but not yet indexed; run indexing first", baseDomain)
	}
	return website, nil
}
