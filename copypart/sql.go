package copypart

import "fmt"

// LogName is the name shared by the publication, replication slot and
// subscription used to copy one partition between two nodes. It is a pure
// function of its arguments, so drop-if-exists cleanup is idempotent even
// across shardlord restarts that lost track of an in-flight copy.
func LogName(part string, src, dst int32) string {
	return fmt.Sprintf("copy_%s_%d_%d", part, src, dst)
}

// MetaSubName is the subscription every worker keeps to the shardlord's
// own metadata database. A copy does not begin until this subscription
// reports a non-NULL received_lsn on both nodes; that position is not
// compared with the shardlord's own WAL position.
const MetaSubName = "shardman_meta_sub"

func dstDropSubSQL(logname string) string {
	return fmt.Sprintf("DROP SUBSCRIPTION IF EXISTS %s", logname)
}

// srcCreatePubAndSlotSQL publishes the physical partition table (part, not
// its parent relation): a subscriber matches published tables by name, and
// the table created on dst by dstCreateTableAndSubSQL is named part too.
func srcCreatePubAndSlotSQL(logname, part string) string {
	return fmt.Sprintf(
		"DROP PUBLICATION IF EXISTS %s CASCADE;"+
			"CREATE PUBLICATION %s FOR TABLE %s;"+
			"SELECT shardman.drop_repslot('%s');"+
			"SELECT pg_create_logical_replication_slot('%s', 'pgoutput')",
		logname, logname, part, logname, logname,
	)
}

func dstCreateTableAndSubSQL(logname, part, relation, srcConnString string) string {
	return fmt.Sprintf(
		"DROP TABLE IF EXISTS %s CASCADE;"+
			"CREATE TABLE %s (LIKE %s INCLUDING ALL);"+
			"CREATE SUBSCRIPTION %s CONNECTION '%s' PUBLICATION %s "+
			"WITH (create_slot = false, slot_name = '%s', copy_data = true, synchronous_commit = local)",
		part, part, relation, logname, srcConnString, logname, logname,
	)
}

// subStateSQL looks up the tablesync state of part, the physical partition
// table dstCreateTableAndSubSQL created on the destination (not its parent
// relation).
func subStateSQL(logname, part string) string {
	return fmt.Sprintf(
		"SELECT srsubstate FROM pg_subscription_rel r "+
			"JOIN pg_subscription s ON s.oid = r.srsubid "+
			"JOIN pg_class c ON c.oid = r.srrelid "+
			"WHERE s.subname = '%s' AND c.relname = '%s'",
		logname, part,
	)
}

func setReadOnlySQL(relation string, readOnly bool) string {
	return fmt.Sprintf("SELECT shardman.set_redirect_to_partition('%s', %t)", relation, readOnly)
}

const currentWALLSNSQL = "SELECT pg_current_wal_lsn()"

func receivedLSNSQL(subname string) string {
	return fmt.Sprintf(
		"SELECT received_lsn FROM pg_stat_subscription WHERE subname = '%s'",
		subname,
	)
}

func dropCopyChannelSQL(logname string) string {
	return fmt.Sprintf(
		"DROP SUBSCRIPTION IF EXISTS %s;"+
			"DROP PUBLICATION IF EXISTS %s",
		logname, logname,
	)
}

func dropSlotIfExistsSQL(logname string) string {
	return fmt.Sprintf(
		"SELECT pg_drop_replication_slot('%s') "+
			"WHERE EXISTS (SELECT 1 FROM pg_replication_slots WHERE slot_name = '%s')",
		logname, logname,
	)
}
