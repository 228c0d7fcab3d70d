package notifier

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/stablewatch/ingest/internal/model"
	"github.com/stablewatch/ingest/internal/notifier/markup"
)

// ArticleProvider selects recently ingested articles that have not been
// posted yet and marks them posted afterwards.
type ArticleProvider interface {
	AllNotPosted(ctx context.Context, since time.Time, minScore int, limit uint64) ([]model.Article, error)
	MarkPosted(ctx context.Context, id int64) error
}

// Notifier posts high-importance articles to a Telegram channel. It runs
// outside the ingest budget entirely; a notification failure never
// affects ingest state.
type Notifier struct {
	articles         ArticleProvider
	bot              *tgbotapi.BotAPI
	sendInterval     time.Duration
	lookupTimeWindow time.Duration
	minScore         int
	channelID        int64
}

func New(
	articles ArticleProvider,
	bot *tgbotapi.BotAPI,
	sendInterval time.Duration,
	lookupTimeWindow time.Duration,
	minScore int,
	channelID int64,
) *Notifier {
	return &Notifier{
		articles:         articles,
		bot:              bot,
		sendInterval:     sendInterval,
		lookupTimeWindow: lookupTimeWindow,
		minScore:         minScore,
		channelID:        channelID,
	}
}

// Start posts on a ticker until the context is canceled.
func (n *Notifier) Start(ctx context.Context) error {
	ticker := time.NewTicker(n.sendInterval)
	defer ticker.Stop()

	if err := n.SelectAndSendArticle(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ticker.C:
			if err := n.SelectAndSendArticle(ctx); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// SelectAndSendArticle posts the single most important unposted article
// from the lookup window, if any.
func (n *Notifier) SelectAndSendArticle(ctx context.Context) error {
	articles, err := n.articles.AllNotPosted(ctx, time.Now().Add(-n.lookupTimeWindow), n.minScore, 1)
	if err != nil {
		return err
	}

	if len(articles) == 0 {
		return nil
	}

	article := articles[0]

	if err := n.sendArticle(article); err != nil {
		return err
	}

	return n.articles.MarkPosted(ctx, article.ID)
}

func (n *Notifier) sendArticle(article model.Article) error {
	const msgFormat = "*%s* \\[%s\\]\n\n%s\n\n%s"

	msg := tgbotapi.NewMessage(n.channelID, fmt.Sprintf(
		msgFormat,
		markup.EscapeForMarkdown(article.Title),
		markup.EscapeForMarkdown(article.ImportanceLabel),
		markup.EscapeForMarkdown(article.SummaryShort),
		markup.EscapeForMarkdown(article.URL),
	))
	msg.ParseMode = tgbotapi.ModeMarkdownV2

	_, err := n.bot.Send(msg)
	return err
}
