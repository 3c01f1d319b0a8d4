package scan

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/chorecast/internal/assign"
	"github.com/hitoshi/chorecast/internal/metrics"
	"github.com/hitoshi/chorecast/internal/model"
	"github.com/hitoshi/chorecast/internal/mqtt"
	"github.com/hitoshi/chorecast/internal/repository"
	"github.com/hitoshi/chorecast/internal/stats"
)

// Processor はリーダーのタグスキャンを解釈する状態機械。
// モーダル相関、サインアウトタグ、ユーザータグ、チョアタグの順に評価し、
// 拒否はコード付きでデバイスと（ユーザーが特定できる場合）本人へ通知する。
type Processor struct {
	correlator *Correlator
	settings   repository.SettingsRepository
	tags       repository.TagRepository
	users      repository.UserRepository
	readers    repository.ReaderRepository
	sessions   repository.SessionRepository
	chores     repository.ChoreRepository
	choreLog   repository.ChoreLogRepository
	engine     *stats.Engine
	pub        mqtt.Publisher
	collector  *metrics.Collector
	logger     *slog.Logger
	loc        *time.Location
	now        func() time.Time

	// onCompletion はチョア完了後に呼ばれる。サマリー再送の起点。
	onCompletion func()
}

// ProcessorDeps はProcessorの依存をまとめる。
type ProcessorDeps struct {
	Correlator *Correlator
	Settings   repository.SettingsRepository
	Tags       repository.TagRepository
	Users      repository.UserRepository
	Readers    repository.ReaderRepository
	Sessions   repository.SessionRepository
	Chores     repository.ChoreRepository
	ChoreLog   repository.ChoreLogRepository
	Engine     *stats.Engine
	Publisher  mqtt.Publisher
	Collector  *metrics.Collector // 省略可能
	Logger     *slog.Logger
	Location   *time.Location

	// OnCompletion は省略可能。
	OnCompletion func()
}

// NewProcessor はProcessorを生成する。
func NewProcessor(deps ProcessorDeps) *Processor {
	onCompletion := deps.OnCompletion
	if onCompletion == nil {
		onCompletion = func() {}
	}
	return &Processor{
		correlator:   deps.Correlator,
		settings:     deps.Settings,
		tags:         deps.Tags,
		users:        deps.Users,
		readers:      deps.Readers,
		sessions:     deps.Sessions,
		chores:       deps.Chores,
		choreLog:     deps.ChoreLog,
		engine:       deps.Engine,
		pub:          deps.Publisher,
		collector:    deps.Collector,
		logger:       deps.Logger,
		loc:          deps.Location,
		now:          time.Now,
		onCompletion: onCompletion,
	}
}

// HandleScan はリーダーからのスキャンpublishを処理する。
func (p *Processor) HandleScan(ctx context.Context, readerMac string, result mqtt.Scan) {
	// モーダル相関が最優先。束縛があればチョア処理には進まない。
	if entry, ok := p.correlator.Take(readerMac); ok {
		p.correlator.Complete(entry, result)
		return
	}

	if result.TagID == "" {
		p.reject(readerMac, nil, model.ErrNoTagDetected())
		return
	}

	settings, err := p.settings.GetAll(ctx)
	if err != nil {
		p.logger.Error("設定の読み出しに失敗したためスキャンを破棄します",
			slog.String("reader_mac", readerMac), slog.String("error", err.Error()))
		p.sendCommand(readerMac, "error", "Service unavailable. Try again later.")
		return
	}

	if settings.SignOutTagID != "" && result.TagID == settings.SignOutTagID {
		p.handleSignOut(ctx, readerMac)
		return
	}

	currentUser, err := p.currentUser(ctx, readerMac, settings)
	if err != nil {
		p.logger.Error("現在ユーザーの解決に失敗しました",
			slog.String("reader_mac", readerMac), slog.String("error", err.Error()))
		p.sendCommand(readerMac, "error", "Service unavailable. Try again later.")
		return
	}

	tag, err := p.tags.FindByTagID(ctx, result.TagID)
	if err != nil {
		p.logger.Error("タグの検索に失敗しました",
			slog.String("tag_id", result.TagID), slog.String("error", err.Error()))
		p.sendCommand(readerMac, "error", "Service unavailable. Try again later.")
		return
	}
	if tag == nil {
		p.reject(readerMac, currentUser, model.ErrTagNotFound(result.TagID))
		return
	}

	switch tag.Type {
	case model.TagTypeUser:
		p.handleUserTag(ctx, readerMac, result.TagID, settings)
	case model.TagTypeChore:
		p.handleChoreTag(ctx, readerMac, result.TagID, currentUser)
	default:
		p.reject(readerMac, currentUser, model.ErrUnsupportedTagType())
	}
}

// handleSignOut はサインアウトタグの処理。セッションの有無にかかわらず成功扱い。
func (p *Processor) handleSignOut(ctx context.Context, readerMac string) {
	var username string
	session, err := p.sessions.FindByReader(ctx, readerMac)
	if err == nil && session != nil {
		if user, err := p.users.FindByID(ctx, session.UserID); err == nil && user != nil {
			username = user.Username
		}
	}

	if err := p.sessions.DeleteByReader(ctx, readerMac); err != nil {
		p.logger.Error("セッションの削除に失敗しました",
			slog.String("reader_mac", readerMac), slog.String("error", err.Error()))
		p.sendCommand(readerMac, "error", "Service unavailable. Try again later.")
		return
	}

	message := "Signed out."
	if username != "" {
		message = fmt.Sprintf("%s signed out.", username)
	}
	// リーダーはstatusで表示を切り替えるため、成否ではなくイベント名を送る。
	p.sendCommand(readerMac, "signed_out", message)
	p.broadcast(mqtt.ChoreEvent{
		Type: mqtt.EventUserSignedOut, Status: "success", Message: message, Username: username,
	})
}

// currentUser はリーダーの「現在のユーザー」を認証方式に従って解決する。
func (p *Processor) currentUser(ctx context.Context, readerMac string, settings *model.Settings) (*model.User, error) {
	if settings.AuthMethod == model.AuthMethodUserTagSignIn {
		session, err := p.sessions.FindByReader(ctx, readerMac)
		if err != nil {
			return nil, err
		}
		if session == nil {
			return nil, nil
		}
		user, err := p.users.FindByID(ctx, session.UserID)
		if err != nil {
			return nil, err
		}
		if user == nil || !user.Enabled {
			return nil, nil
		}
		return user, nil
	}

	reader, err := p.readers.FindByMac(ctx, readerMac)
	if err != nil {
		return nil, err
	}
	if reader == nil {
		return nil, nil
	}
	return p.users.FindByAssignedReader(ctx, reader.ID)
}

// handleUserTag はユーザータグによるサインインを処理する。
func (p *Processor) handleUserTag(ctx context.Context, readerMac, tagID string, settings *model.Settings) {
	if settings.AuthMethod != model.AuthMethodUserTagSignIn {
		p.reject(readerMac, nil, model.ErrAuthMethodMismatch())
		return
	}

	user, err := p.users.FindByTag(ctx, tagID)
	if err != nil {
		p.logger.Error("ユーザータグの検索に失敗しました",
			slog.String("tag_id", tagID), slog.String("error", err.Error()))
		p.sendCommand(readerMac, "error", "Service unavailable. Try again later.")
		return
	}
	if user == nil || !user.Enabled {
		p.reject(readerMac, nil, model.ErrUserNotFoundOrDisabled())
		return
	}

	if err := p.sessions.Replace(ctx, &model.ReaderSession{
		ReaderMacAddress: readerMac,
		UserID:           user.ID,
		SignedInAt:       p.now(),
	}); err != nil {
		p.logger.Error("セッションの保存に失敗しました",
			slog.String("reader_mac", readerMac), slog.String("error", err.Error()))
		p.sendCommand(readerMac, "error", "Service unavailable. Try again later.")
		return
	}

	message := fmt.Sprintf("Welcome, %s!", user.Username)
	p.sendCommand(readerMac, "signed_in", message)
	p.sendUserStatus(user.ID, "success", message)
	p.broadcast(mqtt.ChoreEvent{
		Type: mqtt.EventUserSignedIn, Status: "success",
		Message:  fmt.Sprintf("%s signed in.", user.Username),
		UserID:   user.ID,
		Username: user.Username,
	})
}

// handleChoreTag はチョアタグによる完了記録を処理する。
func (p *Processor) handleChoreTag(ctx context.Context, readerMac, tagID string, currentUser *model.User) {
	if currentUser == nil {
		p.reject(readerMac, nil, model.ErrNoUserSignedIn())
		return
	}

	chore, err := p.chores.FindByTagID(ctx, tagID)
	if err != nil {
		p.logger.Error("チョアの検索に失敗しました",
			slog.String("tag_id", tagID), slog.String("error", err.Error()))
		p.sendCommand(readerMac, "error", "Service unavailable. Try again later.")
		return
	}
	if chore == nil || !chore.Enabled {
		p.reject(readerMac, currentUser, model.ErrChoreNotFoundOrDisabled())
		return
	}

	now := p.now().In(p.loc)
	isoDate := now.Format("2006-01-02")
	weekday := int(now.Weekday())

	schedules, err := p.chores.SchedulesForChore(ctx, chore.ID)
	if err != nil {
		p.logger.Error("スケジュールの取得に失敗しました",
			slog.Int64("chore_id", chore.ID), slog.String("error", err.Error()))
		p.sendCommand(readerMac, "error", "Service unavailable. Try again later.")
		return
	}

	var due []*model.Schedule
	for _, schedule := range schedules {
		if schedule.DueOn(isoDate, weekday) {
			due = append(due, schedule)
		}
	}
	if len(due) == 0 {
		p.reject(readerMac, currentUser, model.ErrNotScheduledToday(chore.Name))
		return
	}
	active := due[0]
	if !active.DueTimeReached(now) {
		p.reject(readerMac, currentUser, model.ErrNotStartedYet(chore.Name, active.DueTime))
		return
	}

	authorized, assigneeName, err := p.authorizeCompletion(ctx, chore, due, currentUser, isoDate)
	if err != nil {
		p.logger.Error("担当者の解決に失敗しました",
			slog.Int64("chore_id", chore.ID), slog.String("error", err.Error()))
		p.sendCommand(readerMac, "error", "Service unavailable. Try again later.")
		return
	}
	if !authorized {
		if assigneeName != "" {
			p.reject(readerMac, currentUser, model.ErrNotAssignedToUser(chore.Name, assigneeName))
		} else {
			p.reject(readerMac, currentUser, model.ErrNotAssignedToday(chore.Name))
		}
		return
	}

	completed, err := p.choreLog.HasCompleted(ctx, chore.ID, currentUser.ID, isoDate)
	if err != nil {
		p.logger.Error("完了記録の確認に失敗しました",
			slog.Int64("chore_id", chore.ID), slog.String("error", err.Error()))
		p.sendCommand(readerMac, "error", "Service unavailable. Try again later.")
		return
	}
	if completed {
		p.reject(readerMac, currentUser, model.ErrAlreadyCompleted(chore.Name))
		return
	}

	entry := &model.ChoreLogEntry{
		ChoreID:          chore.ID,
		UserID:           currentUser.ID,
		AssignedDate:     isoDate,
		CompletedAt:      now,
		ReaderMacAddress: readerMac,
		Status:           "completed",
	}
	if err := p.choreLog.Create(ctx, entry); err != nil {
		p.logger.Error("完了記録の作成に失敗しました",
			slog.Int64("chore_id", chore.ID), slog.String("error", err.Error()))
		p.sendCommand(readerMac, "error", "Service unavailable. Try again later.")
		return
	}
	if err := p.engine.RecordCompleted(ctx, isoDate, chore, currentUser, now); err != nil {
		p.logger.Error("統計の更新に失敗しました",
			slog.Int64("chore_id", chore.ID), slog.String("error", err.Error()))
	}

	message := fmt.Sprintf("%s completed %s!", currentUser.Username, chore.Name)
	p.sendCommand(readerMac, "chore_completed", message)
	p.sendUserStatus(currentUser.ID, "success", message)
	p.broadcast(mqtt.ChoreEvent{
		Type: mqtt.EventChoreCompleted, Status: "success", Message: message,
		ChoreID: chore.ID, UserID: currentUser.ID, Username: currentUser.Username,
	})
	if p.collector != nil {
		p.collector.ChoreCompleted()
	}
	p.notifyUpdates()
	p.onCompletion()

	p.logger.Info("チョアの完了を記録しました",
		slog.Int64("chore_id", chore.ID),
		slog.Int64("user_id", currentUser.ID),
		slog.String("reader_mac", readerMac))
}

// authorizeCompletion はユーザーが当日の担当者かを判定する。
// プール型は日付決定の担当者と一致するかを、手動型は当日スケジュールの
// いずれかが本人を指名しているかを見る。誰も担当していないチョアは
// 誰にも完了させない。プール型で別の担当者が分かる場合はその名前を返す。
func (p *Processor) authorizeCompletion(ctx context.Context, chore *model.Chore, due []*model.Schedule, currentUser *model.User, isoDate string) (bool, string, error) {
	if chore.AssignmentType.IsPool() {
		pool, err := p.chores.PoolUserIDs(ctx, chore.ID)
		if err != nil {
			return false, "", err
		}
		assignee, ok := assign.ForDay(chore.AssignmentType, pool, chore.ID, isoDate)
		if !ok {
			return false, "", nil
		}
		if assignee == currentUser.ID {
			return true, "", nil
		}
		var assigneeName string
		if user, err := p.users.FindByID(ctx, assignee); err == nil && user != nil {
			assigneeName = user.Username
		}
		return false, assigneeName, nil
	}

	for _, schedule := range due {
		if schedule.AssignedUserID != nil && *schedule.AssignedUserID == currentUser.ID {
			return true, "", nil
		}
	}
	return false, "", nil
}

// reject は拒否をデバイスへ、ユーザーが分かる場合は本人へも通知する。
func (p *Processor) reject(readerMac string, user *model.User, scanErr *model.ScanError) {
	p.logger.Info("スキャンを拒否しました",
		slog.String("reader_mac", readerMac),
		slog.String("code", scanErr.Code))
	if p.collector != nil {
		p.collector.ScanRejected(scanErr.Code)
	}
	// デバイスのコマンドには拒否コードを、本人へのトーストには深刻度を載せる。
	p.sendCommand(readerMac, scanErr.Code, scanErr.Message)
	if user != nil {
		p.sendUserStatus(user.ID, scanErr.Severity, scanErr.Message)
	}
}

func (p *Processor) sendCommand(readerMac, status, message string) {
	cmd := mqtt.Command{Status: status, Message: message}
	if err := p.pub.PublishJSON(mqtt.CommandTopic(readerMac), cmd); err != nil {
		p.logger.Error("コマンドの送信に失敗しました",
			slog.String("reader_mac", readerMac), slog.String("error", err.Error()))
	}
}

func (p *Processor) sendUserStatus(userID int64, status, message string) {
	payload := mqtt.UserStatus{Status: status, Message: message}
	if err := p.pub.PublishJSON(mqtt.UserStatusTopic(userID), payload); err != nil {
		p.logger.Error("ユーザーステータスの送信に失敗しました",
			slog.Int64("user_id", userID), slog.String("error", err.Error()))
	}
}

func (p *Processor) broadcast(event mqtt.ChoreEvent) {
	if err := p.pub.PublishJSON(mqtt.TopicFeedback, event); err != nil {
		p.logger.Error("イベントの配信に失敗しました",
			slog.String("type", event.Type), slog.String("error", err.Error()))
	}
}

// notifyUpdates はダッシュボードと統計ビューの再取得を促す。
func (p *Processor) notifyUpdates() {
	for _, topic := range []string{mqtt.TopicDashboard, mqtt.TopicStatistics} {
		if err := p.pub.PublishJSON(topic, map[string]string{"event": "refresh"}); err != nil {
			p.logger.Error("更新通知の配信に失敗しました",
				slog.String("topic", topic), slog.String("error", err.Error()))
		}
	}
}
