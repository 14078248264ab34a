package submission

import "github.com/roach88/intake/internal/query"

var (
	insertSubmission = query.Define("insert-submission", query.One, query.Write, `
insert into submission (id, subject, home_assistant, created_at)
values (:id, :subject, :home_assistant, :created_at)
on conflict (id) do nothing
returning id`)

	insertDevice = query.Define("insert-device", query.One, query.Write, `
insert into device (
  submission_id, integration, position,
  manufacturer, model_id, model, sw_version, hw_version, entry_type,
  has_configuration_url, via_integration, via_position, digest
) values (
  :submission_id, :integration, :position,
  :manufacturer, :model_id, :model, :sw_version, :hw_version, :entry_type,
  :has_configuration_url, :via_integration, :via_position, :digest
)
returning id`)

	insertEntity = query.Define("insert-entity", query.None, query.Write, `
insert into entity (
  submission_id, device_id, integration, domain, assumed_state, entity_category,
  has_entity_name, original_device_class, unit_of_measurement, digest
) values (
  :submission_id, :device_id, :integration, :domain, :assumed_state, :entity_category,
  :has_entity_name, :original_device_class, :unit_of_measurement, :digest
)`)

	resolveLinks = query.Define("resolve-links", query.None, query.Write, `
update device set via_device_id = (
  select target.id from device as target
  where target.submission_id = device.submission_id
    and target.integration = device.via_integration
    and target.position = device.via_position
)
where submission_id = ? and via_integration is not null`)

	finalizeSubmission = query.Define("finalize-submission", query.One, query.Write, `
update submission set finalized_at = ?
where id = ? and finalized_at is null
returning id`)

	deleteSubmission = query.Define("delete-submission", query.None, query.Write,
		`delete from submission where id = ?`)

	getSummary = query.Define("get-submission", query.One, query.Read, `
select
  id, subject, home_assistant, created_at, finalized_at,
  (select count(*) from device where submission_id = submission.id) as devices,
  (select count(*) from entity where submission_id = submission.id) as entities
from submission
where id = ?`)

	listDevices = query.Define("list-devices", query.Many, query.Read, `
select
  device.id, device.integration, device.position, device.manufacturer,
  device.model, device.via_device_id, device.digest,
  (select count(*) from entity where entity.device_id = device.id) as entities
from device
where device.submission_id = ?
order by device.integration, device.position`)
)
