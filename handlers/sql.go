package handlers

import "fmt"

// dataChannelName is DataChannelName's unexported worker; the exported
// wrapper exists purely so external callers don't need to know it lives in
// this package.
func dataChannelName(part string, from, to int32) string {
	return fmt.Sprintf("data_%s_%d_%d", part, from, to)
}

// DataChannelName is the publication/slot/subscription name for a
// steady-state (post-copy) replication link carrying ongoing changes for
// part from node from to node to, distinct from copypart.LogName which
// only ever names a transient initial-copy channel.
func DataChannelName(part string, from, to int32) string {
	return dataChannelName(part, from, to)
}

func movePartUpdateMetadataSQL(part string, src, dst int32) string {
	return fmt.Sprintf(
		"UPDATE shardman.partitions SET owner = %d WHERE part_name = '%s' AND owner = %d;"+
			"UPDATE shardman.partitions SET nxt = %d WHERE part_name = '%s' AND nxt = %d;"+
			"UPDATE shardman.partitions SET prv = %d WHERE part_name = '%s' AND prv = %d",
		dst, part, src,
		dst, part, src,
		dst, part, src,
	)
}

func movePartPrevSQL(part string, src, dst int32, prevDstLname string) string {
	return fmt.Sprintf(
		"SELECT shardman.part_moved_prev('%s', %d, %d);"+
			"SELECT pg_create_logical_replication_slot('%s', 'pgoutput')",
		part, src, dst, prevDstLname,
	)
}

func movePartSyncStandbySQL(lname string) string {
	return fmt.Sprintf("SELECT shardman.ensure_sync_standby('%s')", lname)
}

func movePartDstSQL(part string, src, dst int32, nextLname string) string {
	base := fmt.Sprintf("SELECT shardman.part_moved_dst('%s', %d, %d)", part, src, dst)
	if nextLname == "" {
		return base
	}
	return fmt.Sprintf("%s;SELECT pg_create_logical_replication_slot('%s', 'pgoutput')", base, nextLname)
}

func movePartNextSQL(part string, src, dst int32) string {
	return fmt.Sprintf("SELECT shardman.part_moved_next('%s', %d, %d)", part, src, dst)
}

func createReplicaUpdateMetadataSQL(part string, dst, src int32, relation string) string {
	return fmt.Sprintf(
		"INSERT INTO shardman.partitions VALUES ('%s', %d, %d, NULL, '%s');"+
			"UPDATE shardman.partitions SET nxt = %d WHERE part_name = '%s' AND owner = %d",
		part, dst, src, relation,
		dst, part, src,
	)
}

func dropCPSubSQL(part string, src, dst int32) string {
	return fmt.Sprintf("SELECT shardman.replica_created_drop_cp_sub('%s', %d, %d)", part, src, dst)
}

func createDataPubSQL(part string, src, dst int32, lname string) string {
	return fmt.Sprintf(
		"SELECT shardman.replica_created_create_data_pub('%s', %d, %d);"+
			"SELECT pg_create_logical_replication_slot('%s', 'pgoutput')",
		part, src, dst, lname,
	)
}

func createDataSubSQL(part string, src, dst int32) string {
	return fmt.Sprintf("SELECT shardman.replica_created_create_data_sub('%s', %d, %d)", part, src, dst)
}

func createReplicaSyncStandbySQL(lname, part string) string {
	return fmt.Sprintf(
		"SELECT shardman.ensure_sync_standby('%s');"+
			"SELECT shardman.readonly_table_off('%s'::regclass)",
		lname, part,
	)
}
