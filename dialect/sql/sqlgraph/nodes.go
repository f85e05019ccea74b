package sqlgraph

import (
	"context"
	"fmt"

	"github.com/syssam/sensorthings/dialect"
	"github.com/syssam/sensorthings/dialect/sql"
)

// Exists reports whether the node table has a row with the given key.
func Exists(ctx context.Context, ex dialect.ExecQuerier, d string, n *Node, id any) (bool, error) {
	v, err := n.ID.Value(id)
	if err != nil {
		return false, err
	}
	query, args := sql.Dialect(d).
		Select(n.ID.Column).
		From(sql.Table(n.Table)).
		Where(sql.EQ(n.ID.Column, v)).
		Limit(1).
		Query()
	var rows sql.Rows
	if err := ex.Query(ctx, query, args, &rows); err != nil {
		return false, err
	}
	defer rows.Close()
	found := rows.Next()
	return found, rows.Err()
}

// CreateNode inserts a row into the node table and returns its key. When
// cols holds no key column, the key is generated by the database.
func CreateNode(ctx context.Context, ex dialect.ExecQuerier, d string, n *Node, cols []string, vals []any) (any, error) {
	insert := sql.Dialect(d).Insert(n.Table).Columns(cols...)
	if len(cols) > 0 {
		insert.Values(vals...)
	}
	for i, c := range cols {
		if c == n.ID.Column {
			query, args := insert.Query()
			if err := ex.Exec(ctx, query, args, nil); err != nil {
				return nil, wrapConstraint(err)
			}
			return vals[i], nil
		}
	}
	if d == dialect.MySQL {
		var res sql.Result
		query, args := insert.Query()
		if err := ex.Exec(ctx, query, args, &res); err != nil {
			return nil, wrapConstraint(err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, err
		}
		return n.ID.Scan(id)
	}
	query, args := insert.Returning(n.ID.Column).Query()
	var rows sql.Rows
	if err := ex.Query(ctx, query, args, &rows); err != nil {
		return nil, wrapConstraint(err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, wrapConstraint(err)
		}
		return nil, fmt.Errorf("sqlgraph: insert into %s returned no key", n.Table)
	}
	var id any
	if err := rows.Scan(&id); err != nil {
		return nil, err
	}
	return n.ID.Scan(id)
}

// UpdateNode sets the columns of the row with the given key and returns
// the number of affected rows.
func UpdateNode(ctx context.Context, ex dialect.ExecQuerier, d string, n *Node, id any, cols []string, vals []any) (int64, error) {
	v, err := n.ID.Value(id)
	if err != nil {
		return 0, err
	}
	update := sql.Dialect(d).Update(n.Table).Where(sql.EQ(n.ID.Column, v))
	for i, c := range cols {
		update.Set(c, vals[i])
	}
	if update.Empty() {
		return 0, nil
	}
	query, args := update.Query()
	return execAffected(ctx, ex, query, args)
}

// DeleteNode deletes the row with the given key and returns the number of
// affected rows.
func DeleteNode(ctx context.Context, ex dialect.ExecQuerier, d string, n *Node, id any) (int64, error) {
	v, err := n.ID.Value(id)
	if err != nil {
		return 0, err
	}
	query, args := sql.Dialect(d).
		Delete(n.Table).
		Where(sql.EQ(n.ID.Column, v)).
		Query()
	return execAffected(ctx, ex, query, args)
}

func execAffected(ctx context.Context, ex dialect.ExecQuerier, query string, args []any) (int64, error) {
	var res sql.Result
	if err := ex.Exec(ctx, query, args, &res); err != nil {
		return 0, wrapConstraint(err)
	}
	return res.RowsAffected()
}
