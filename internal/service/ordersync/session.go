package ordersync

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
)

// SessionKeeper держит сессию одного прогона и один раз переоткрывает её,
// если магазин ответил, что сессия истекла.
type SessionKeeper struct {
	source   domain.OrderSource
	creds    domain.Credentials
	logger   *log.Entry
	session  domain.Session
	reopened bool
}

// NewSessionKeeper создаёт хранителя сессии; сама сессия открывается в Open.
func NewSessionKeeper(source domain.OrderSource, creds domain.Credentials, logger *log.Entry) *SessionKeeper {
	if logger == nil {
		logger = log.WithField("component", "ordersync-session")
	}
	return &SessionKeeper{source: source, creds: creds, logger: logger}
}

// Open выполняет вход. Любая ошибка здесь фатальна для прогона.
func (k *SessionKeeper) Open(ctx context.Context) error {
	if k.creds.Empty() {
		return domain.ErrCredentialsMissing
	}
	session, err := k.source.Authenticate(ctx, k.creds)
	if err != nil {
		return asAuthError(err)
	}
	k.session = session
	return nil
}

// Session возвращает текущую сессию.
func (k *SessionKeeper) Session() domain.Session {
	return k.session
}

// Do вызывает fn с текущей сессией. При истёкшей сессии выполняется
// повторный вход (не больше одного раза за прогон) и fn вызывается снова.
func (k *SessionKeeper) Do(ctx context.Context, fn func(domain.Session) error) error {
	err := fn(k.session)
	if err == nil || !domain.IsSessionExpired(err) {
		return err
	}
	if k.reopened {
		return asAuthError(err)
	}

	k.logger.WithError(err).Warn("magento session expired, logging in again")
	k.reopened = true
	if openErr := k.Open(ctx); openErr != nil {
		return openErr
	}
	if err := fn(k.session); err != nil {
		if domain.IsSessionExpired(err) {
			return asAuthError(err)
		}
		return err
	}
	return nil
}

func asAuthError(err error) error {
	if domain.IsFatal(err) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrAuth, err)
}
