package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/plotkeeper/internal/dbx"
	"github.com/dmitrijs2005/plotkeeper/internal/server/repositories/entities"
	"github.com/dmitrijs2005/plotkeeper/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/plotkeeper/internal/server/repositories/users"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	RefreshTokens(db dbx.DBTX) refreshtokens.Repository
	Entities(db dbx.DBTX) entities.Repository
}
