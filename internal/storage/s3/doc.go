/*
Package s3 stores a storage's directory tree in an S3 bucket.

The tree itself is one JSON object; file contents are separate objects named by
random uuids so that renames never copy data:

	<prefix>.wildfs/filesystem.json   directory tree, sizes, times, permissions
	<prefix><uuid>                    content of one file

Every metadata change is a read-modify-write of the tree object guarded by its
ETag. File descriptors remember the ETag of the content object they opened and
send it as IfMatch on every read and write, so a file replaced by another writer
fails with CONCURRENT_ISSUE instead of returning mixed data.

# Configuration

The storage config is a JSON document:

	{
	  "bucket": "replica-eu",
	  "region": "eu-west-1",
	  "prefix": "team-a/",
	  "endpoint": "http://localhost:9000",
	  "force_path_style": true
	}

Credentials come from the default AWS chain unless access_key_id and
secret_access_key are set.
*/
package s3
